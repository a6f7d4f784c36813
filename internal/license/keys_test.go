package license

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/security"
)

func TestGenerateLicenseKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		assert.True(t, ValidLicenseKeyFormat(key), key)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestValidLicenseKeyFormat(t *testing.T) {
	assert.True(t, ValidLicenseKeyFormat("ABCDE-FGHIJ-KLMNO-PQRS2"))
	assert.False(t, ValidLicenseKeyFormat("abcde-fghij-klmno-pqrst"))
	assert.False(t, ValidLicenseKeyFormat("ABCDE-FGHIJ-KLMNO"))
	assert.False(t, ValidLicenseKeyFormat("ABCDE-FGHIJ-KLMNO-PQRS1"))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{ErrLicenseNotFound, OutcomeNotFound},
		{fmt.Errorf("lookup: %w", ErrLicenseRevoked), OutcomeRevoked},
		{ErrLicenseExpired, OutcomeExpired},
		{ErrEmailMismatch, OutcomeMismatch},
		{ErrActivationLimit, OutcomeLimit},
		{ErrActivationNotFound, OutcomeNotActivated},
		{MissingField("email"), OutcomeInvalidInput},
		{security.ErrInvalidMachineID, OutcomeInvalidInput},
		{errors.New("connection refused"), OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}
