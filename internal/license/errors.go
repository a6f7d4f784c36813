package license

import (
	"errors"
	"fmt"
)

// Business rule rejections. These are expected outcomes of the protocol,
// callers should not log them as errors.
var (
	ErrLicenseNotFound     = errors.New("license not found")
	ErrLicenseRevoked      = errors.New("license has been revoked")
	ErrLicenseExpired      = errors.New("license has expired")
	ErrEmailMismatch       = errors.New("email does not match license owner")
	ErrActivationLimit     = errors.New("activation limit reached")
	ErrActivationNotFound  = errors.New("activation not found")
	ErrInvalidLicenseType  = errors.New("invalid license type")
	ErrInvalidActivations  = errors.New("max activations must be between 1 and 100")
	ErrMissingField        = errors.New("missing required field")
	ErrDuplicateLicenseKey = errors.New("license key already exists")
)

// FieldError reports a missing or empty input field by its wire name
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Unwrap lets errors.Is match ErrMissingField
func (e *FieldError) Unwrap() error {
	return ErrMissingField
}

// MissingField returns a FieldError for field
func MissingField(field string) error {
	return &FieldError{Field: field}
}

// IsRejection reports whether err is a business rule rejection rather than
// an internal failure
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrLicenseNotFound),
		errors.Is(err, ErrLicenseRevoked),
		errors.Is(err, ErrLicenseExpired),
		errors.Is(err, ErrEmailMismatch),
		errors.Is(err, ErrActivationLimit),
		errors.Is(err, ErrActivationNotFound):
		return true
	}
	return false
}
