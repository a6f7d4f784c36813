package license

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
)

const (
	licenseKeyGroups    = 4
	licenseKeyGroupSize = 5
)

var licenseKeyPattern = regexp.MustCompile(`^[A-Z2-7]{5}(-[A-Z2-7]{5}){3}$`)

// GenerateLicenseKey returns a random customer-facing key of the form
// XXXXX-XXXXX-XXXXX-XXXXX over the base32 alphabet
func GenerateLicenseKey() (string, error) {
	buf := make([]byte, 13)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)

	groups := make([]string, 0, licenseKeyGroups)
	for i := 0; i < licenseKeyGroups; i++ {
		groups = append(groups, encoded[i*licenseKeyGroupSize:(i+1)*licenseKeyGroupSize])
	}
	return strings.Join(groups, "-"), nil
}

// ValidLicenseKeyFormat reports whether key looks like a generated key.
// Keys imported from older systems may not match, so lookups do not require it.
func ValidLicenseKeyFormat(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// NormalizeLicenseKey trims surrounding whitespace
func NormalizeLicenseKey(key string) string {
	return strings.TrimSpace(key)
}
