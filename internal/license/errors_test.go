package license

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", ErrLicenseNotFound, true},
		{"revoked", ErrLicenseRevoked, true},
		{"expired", ErrLicenseExpired, true},
		{"wrapped mismatch", fmt.Errorf("wrapped: %w", ErrEmailMismatch), true},
		{"limit", ErrActivationLimit, true},
		{"not activated", ErrActivationNotFound, true},
		{"missing field", MissingField("email"), false},
		{"duplicate key", ErrDuplicateLicenseKey, false},
		{"internal", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRejection(tt.err))
		})
	}
}

func TestFieldError(t *testing.T) {
	err := fmt.Errorf("activate: %w", MissingField("machine_id"))

	assert.ErrorIs(t, err, ErrMissingField)
	assert.EqualError(t, err, "activate: machine_id is required")

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "machine_id", fe.Field)
}
