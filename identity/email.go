package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
)

// ErrInvalidEmail is matched by every EmailError.
var ErrInvalidEmail = errors.New("invalid email address")

// Reason says why an address was refused.
type Reason string

const (
	ReasonInvalid    Reason = "INVALID"
	ReasonDisposable Reason = "DISPOSABLE"
	ReasonNoMX       Reason = "NO_MX_RECORDS"
)

// EmailError reports a refused sign-in address.
type EmailError struct {
	Email  string
	Reason Reason
}

func (e *EmailError) Error() string {
	return fmt.Sprintf("invalid email address %q: %s", e.Email, e.Reason)
}

func (e *EmailError) Is(target error) bool { return target == ErrInvalidEmail }

// MXResolver is satisfied by *net.Resolver.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

var defaultDisposable = []string{
	"10minutemail.com",
	"dispostable.com",
	"guerrillamail.com",
	"mailinator.com",
	"maildrop.cc",
	"sharklasers.com",
	"temp-mail.org",
	"tempmail.com",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

// EmailValidator refuses malformed, disposable and undeliverable addresses.
type EmailValidator struct {
	Resolver   MXResolver
	disposable map[string]struct{}
	CheckMX    bool
}

// NewEmailValidator returns a validator blocking the built-in disposable domains plus extra.
// checkMX enables the MX lookup through net.DefaultResolver.
func NewEmailValidator(extra []string, checkMX bool) *EmailValidator {
	v := &EmailValidator{Resolver: net.DefaultResolver, CheckMX: checkMX, disposable: map[string]struct{}{}}
	for _, d := range append(append([]string{}, defaultDisposable...), extra...) {
		v.disposable[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return v
}

// Validate returns nil for a usable address or an *EmailError.
func (v *EmailValidator) Validate(ctx context.Context, email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return &EmailError{Email: email, Reason: ReasonInvalid}
	}
	at := strings.LastIndexByte(addr.Address, '@')
	domain := strings.ToLower(addr.Address[at+1:])
	if !strings.Contains(domain, ".") {
		return &EmailError{Email: email, Reason: ReasonInvalid}
	}
	if _, blocked := v.disposable[domain]; blocked {
		return &EmailError{Email: email, Reason: ReasonDisposable}
	}
	if !v.CheckMX || v.Resolver == nil {
		return nil
	}
	mx, err := v.Resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && !dnsErr.IsNotFound {
			// Resolver trouble is not the user's fault.
			return nil
		}
		return &EmailError{Email: email, Reason: ReasonNoMX}
	}
	if len(mx) == 0 {
		return &EmailError{Email: email, Reason: ReasonNoMX}
	}
	return nil
}
