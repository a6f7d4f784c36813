package security

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// KeySource describes where the process-wide signing key is read from.
// Inline takes precedence over File.
type KeySource struct {
	// Inline is the private key as base64 (seed or full key) or PEM text
	Inline string
	// File is a path to a file holding the same encodings
	File string
}

// Configured reports whether any key location is set
func (s KeySource) Configured() bool {
	return strings.TrimSpace(s.Inline) != "" || strings.TrimSpace(s.File) != ""
}

// Load reads and parses the private key
func (s KeySource) Load() (ed25519.PrivateKey, error) {
	var raw []byte
	switch {
	case strings.TrimSpace(s.Inline) != "":
		raw = []byte(s.Inline)
	case strings.TrimSpace(s.File) != "":
		data, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("%w: read key file: %v", ErrKeyMaterial, err)
		}
		raw = data
	default:
		return nil, fmt.Errorf("%w: no private key configured", ErrKeyMaterial)
	}

	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ParsePrivateKey accepts a 32-byte seed or a 64-byte Ed25519 private key,
// base64 encoded (standard or raw URL alphabet) or wrapped in a PEM block.
// PEM blocks may carry raw key bytes or PKCS#8.
func ParsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty private key", ErrKeyMaterial)
	}

	if block, _ := pem.Decode([]byte(text)); block != nil {
		if block.Type != "PRIVATE KEY" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyMaterial, block.Type)
		}
		if key, err := privateKeyFromBytes(block.Bytes); err == nil {
			return key, nil
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse PKCS#8: %v", ErrKeyMaterial, err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PEM key is %T, not Ed25519", ErrKeyMaterial, parsed)
		}
		return key, nil
	}

	decoded, err := decodeBase64(text)
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key: %v", ErrKeyMaterial, err)
	}
	return privateKeyFromBytes(decoded)
}

// ParsePublicKey decodes a base64 or PEM Ed25519 public key
func ParsePublicKey(text string) (ed25519.PublicKey, error) {
	text = strings.TrimSpace(text)
	if block, _ := pem.Decode([]byte(text)); block != nil {
		if len(block.Bytes) == ed25519.PublicKeySize {
			return ed25519.PublicKey(block.Bytes), nil
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		key, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not Ed25519", parsed)
		}
		return key, nil
	}

	decoded, err := decodeBase64(text)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

func privateKeyFromBytes(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
		copy(key, b)
		// the trailing half must be the public key of the seed
		if !key.Public().(ed25519.PublicKey).Equal(ed25519.NewKeyFromSeed(key.Seed()).Public()) {
			return nil, fmt.Errorf("%w: inconsistent private key", ErrKeyMaterial)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: private key must be %d or %d bytes, got %d",
			ErrKeyMaterial, ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
