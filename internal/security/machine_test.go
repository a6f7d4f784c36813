package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMachineID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "3f2a9c1d-77e0-4c55", want: "3f2a9c1d-77e0-4c55"},
		{name: "trimmed", input: "  machine-0001\n", want: "machine-0001"},
		{name: "too short", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 257), wantErr: true},
		{name: "control character", input: "machine\x00-0001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMachineID(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMachineID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashMachineID(t *testing.T) {
	h := HashMachineID("machine-0001")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashMachineID("machine-0001"))
	assert.NotEqual(t, h, HashMachineID("machine-0002"))
	assert.NotContains(t, h, "machine")
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "ABCDE-****-PQRST", MaskLicenseKey("ABCDE-FGHIJ-KLMNO-PQRST"))
	assert.Equal(t, "***", MaskLicenseKey("short"))
}
