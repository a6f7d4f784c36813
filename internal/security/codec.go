package security

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"licensesrv/pkg/contracts/domain"
)

// Key derivation labels shared with the plugin. Changing either breaks every
// installed client.
const (
	MachineKeySalt = "plugin-license/machine-key/v1"
	MachineKeyInfo = "license-payload-encryption"

	nonceSize = 24
	keySize   = 32
)

// SealedLicense is an encrypted payload plus its signature, both base64
type SealedLicense struct {
	Data      string
	Signature string
}

// Codec encrypts license payloads to a machine and signs them with the
// process-wide Ed25519 key. It is safe for concurrent use.
type Codec struct {
	source KeySource
	logger *slog.Logger
	rand   io.Reader

	mu  sync.Mutex
	key atomic.Pointer[ed25519.PrivateKey]
}

// NewCodec creates a codec that loads its key from source on first Ensure
func NewCodec(source KeySource, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		source: source,
		logger: logger.With(slog.String("component", "license_codec")),
		rand:   rand.Reader,
	}
}

// NewCodecWithKey creates an already initialized codec
func NewCodecWithKey(key ed25519.PrivateKey, logger *slog.Logger) *Codec {
	c := NewCodec(KeySource{}, logger)
	k := key
	c.key.Store(&k)
	return c
}

// Ensure loads the signing key once. Only success is memoized: a failed load
// is retried by the next caller. Concurrent first callers share one attempt.
func (c *Codec) Ensure(ctx context.Context) error {
	if c.key.Load() != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key.Load() != nil {
		return nil
	}

	key, err := c.source.Load()
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to load license signing key", slog.String("error", err.Error()))
		return err
	}
	c.key.Store(&key)

	c.logger.InfoContext(ctx, "License signing key loaded",
		slog.String("public_key", base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey))),
	)
	return nil
}

// Ready reports whether Ensure has succeeded
func (c *Codec) Ready() bool {
	return c.key.Load() != nil
}

func (c *Codec) privateKey() (ed25519.PrivateKey, error) {
	k := c.key.Load()
	if k == nil {
		return nil, ErrNotInitialized
	}
	return *k, nil
}

// PublicKey returns the base64 public half of the signing key
func (c *Codec) PublicKey() (string, error) {
	key, err := c.privateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey)), nil
}

// EncryptLicenseData JSON-encodes payload and seals it with a key derived
// from machineID. The result is base64(nonce || secretbox).
func (c *Codec) EncryptLicenseData(payload domain.LicensePayload, machineID string) (string, error) {
	if !c.Ready() {
		return "", ErrNotInitialized
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal license payload: %w", err)
	}

	key, err := DeriveMachineKey(machineID)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptLicenseData reverses EncryptLicenseData. Any failure, including a
// machine id other than the one used to encrypt, yields ErrDecryption.
func (c *Codec) DecryptLicenseData(blob, machineID string) (domain.LicensePayload, error) {
	var payload domain.LicensePayload
	if !c.Ready() {
		return payload, ErrNotInitialized
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return payload, fmt.Errorf("%w: malformed encoding", ErrDecryption)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return payload, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	key, err := DeriveMachineKey(machineID)
	if err != nil {
		return payload, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &key)
	if !ok {
		return payload, ErrDecryption
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return payload, fmt.Errorf("%w: payload not decodable", ErrDecryption)
	}
	return payload, nil
}

// SignMessage signs msg with the process-wide key and returns base64
func (c *Codec) SignMessage(msg []byte) (string, error) {
	key, err := c.privateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, msg)), nil
}

// Seal encrypts payload to machineID and signs the raw ciphertext bytes
func (c *Codec) Seal(payload domain.LicensePayload, machineID string) (SealedLicense, error) {
	data, err := c.EncryptLicenseData(payload, machineID)
	if err != nil {
		return SealedLicense{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return SealedLicense{}, fmt.Errorf("decode sealed payload: %w", err)
	}
	sig, err := c.SignMessage(raw)
	if err != nil {
		return SealedLicense{}, err
	}
	return SealedLicense{Data: data, Signature: sig}, nil
}

// Verify checks a base64 signature over msg
func Verify(pub ed25519.PublicKey, msg []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifySealed checks the signature of a sealed license the way the plugin does
func VerifySealed(pub ed25519.PublicKey, sealed SealedLicense) bool {
	raw, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return false
	}
	return Verify(pub, raw, sealed.Signature)
}

// DeriveMachineKey derives the 32-byte secretbox key for a machine id
// with HKDF-SHA256. The raw id is never used as key material directly.
func DeriveMachineKey(machineID string) ([keySize]byte, error) {
	var key [keySize]byte
	if machineID == "" {
		return key, ErrInvalidMachineID
	}
	r := hkdf.New(sha256.New, []byte(machineID), []byte(MachineKeySalt), []byte(MachineKeyInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("derive machine key: %w", err)
	}
	return key, nil
}
