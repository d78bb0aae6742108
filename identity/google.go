// Package identity wraps the Google OAuth2 authorization code flow used for sign-in, the
// userinfo lookup that follows it, and the checks applied to the signed-in email.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/onnwee/snapcast/config"
)

// Provider is the accounts.provider value for Google links.
const Provider = "google"

// Profile is the subset of the Google userinfo response stored for a user.
type Profile struct {
	ID            string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// Google runs the sign-in flow against Google.
type Google struct {
	oauth *oauth2.Config
	// apiEndpoint overrides the userinfo API base URL (tests).
	apiEndpoint string
}

// NewGoogle builds the OAuth client from cfg. Scopes may be comma or space separated.
func NewGoogle(cfg *config.Config) *Google {
	scopes := []string{"openid", goauth2.UserinfoEmailScope, goauth2.UserinfoProfileScope}
	if fields := strings.Fields(strings.ReplaceAll(cfg.GoogleScopes, ",", " ")); len(fields) > 0 {
		scopes = fields
	}
	return &Google{oauth: &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       scopes,
	}}
}

// AuthCodeURL returns the consent page URL carrying state. Offline access is requested so
// the account row receives a refresh token.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for tokens.
func (g *Google) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// Profile fetches the userinfo of the token's owner.
func (g *Google) Profile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(g.oauth.Client(ctx, tok))}
	if g.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.apiEndpoint))
	}
	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return nil, errors.New("userinfo: missing id or email")
	}
	p := &Profile{ID: info.Id, Email: strings.ToLower(info.Email), Name: info.Name, Picture: info.Picture}
	if info.VerifiedEmail != nil {
		p.EmailVerified = *info.VerifiedEmail
	}
	if p.Name == "" {
		p.Name = p.Email
	}
	return p, nil
}

// Refresh obtains a new access token from a stored refresh token.
func (g *Google) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token")
	}
	tok, err := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return tok, nil
}

// Scope returns the granted scopes recorded on tok, falling back to the requested ones.
func (g *Google) Scope(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return s
	}
	return strings.Join(g.oauth.Scopes, " ")
}
