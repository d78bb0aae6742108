package video

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrRateLimited             = errors.New("rate limited")
	ErrValidationFailed        = errors.New("validation failed")
	ErrUploadTargetUnavailable = errors.New("upload target unavailable")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrPersistenceFailed       = errors.New("persistence failed")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
)

// Transfer stages.
const (
	StageVideo     = "video"
	StageThumbnail = "thumbnail"
)

// TransferError reports which asset failed to reach the media host.
type TransferError struct {
	Err   error
	Stage string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failed: %v", e.Stage, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is makes every TransferError match ErrTransferFailed.
func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

// ErrorKind is the user-facing class of an error returned by this package.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthenticated
	KindRateLimited
	KindValidation
	KindUploadTargetUnavailable
	KindTransferFailed
	KindPersistenceFailed
	KindNotFound
	KindForbidden
)

// String returns the machine-readable code sent to clients.
func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindUploadTargetUnavailable:
		return "UPLOAD_TARGET_UNAVAILABLE"
	case KindTransferFailed:
		return "TRANSFER_FAILED"
	case KindPersistenceFailed:
		return "PERSISTENCE_FAILED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindForbidden:
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}

// Classify maps an error chain onto its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrUploadTargetUnavailable):
		return KindUploadTargetUnavailable
	case errors.Is(err, ErrTransferFailed):
		return KindTransferFailed
	case errors.Is(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}

// UserMessage is the message shown next to the form or listing that failed.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindUnauthenticated:
		return "Please sign in to continue."
	case KindRateLimited:
		return "You're uploading videos too quickly. Please wait a moment before trying again."
	case KindValidation:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.Message
		}
		return "Please check the form and try again."
	case KindUploadTargetUnavailable:
		return "Failed to get upload credentials. Please try again."
	case KindTransferFailed:
		var te *TransferError
		if errors.As(err, &te) && te.Stage == StageThumbnail {
			return "Failed to upload the thumbnail. Please try again."
		}
		return "Failed to upload the video. Please try again."
	case KindPersistenceFailed:
		return "Failed to save video. Please try again."
	case KindNotFound:
		return "Not found."
	case KindForbidden:
		return "You can only change your own videos."
	}
	return "Something went wrong. Please try again."
}

// ValidationError carries a form-level message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

func invalid(msg string) error { return &ValidationError{Message: msg} }
