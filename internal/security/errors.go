package security

import "errors"

var (
	// ErrKeyMaterial is returned when the signing key is missing or cannot be parsed
	ErrKeyMaterial = errors.New("signing key material unavailable")

	// ErrNotInitialized is returned by codec operations called before Ensure succeeded
	ErrNotInitialized = errors.New("license codec not initialized")

	// ErrDecryption covers malformed ciphertext and machine id mismatch
	ErrDecryption = errors.New("license data decryption failed")

	// ErrInvalidMachineID is returned for machine ids that fail normalization
	ErrInvalidMachineID = errors.New("invalid machine id")
)

// IsConfigurationError reports whether err stems from missing or unusable key material
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrKeyMaterial) || errors.Is(err, ErrNotInitialized)
}
