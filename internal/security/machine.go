package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	minMachineIDLength = 8
	maxMachineIDLength = 256
)

// NormalizeMachineID trims a client supplied machine id and checks it is
// usable as key derivation input
func NormalizeMachineID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if len(id) < minMachineIDLength || len(id) > maxMachineIDLength {
		return "", fmt.Errorf("%w: length must be between %d and %d bytes",
			ErrInvalidMachineID, minMachineIDLength, maxMachineIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidMachineID)
		}
	}
	return id, nil
}

// HashMachineID returns a short stable digest of a machine id for logs
func HashMachineID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}

// MaskLicenseKey keeps the first and last group of a license key
func MaskLicenseKey(key string) string {
	if len(key) <= 10 {
		return "***"
	}
	return key[:5] + "-****-" + key[len(key)-5:]
}
