package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"licensesrv/internal/license"
	"licensesrv/internal/security"
	"licensesrv/internal/store/memory"
	"licensesrv/pkg/contracts/domain"
)

// LicenseEnv is an in-memory license stack over a fresh signing key
type LicenseEnv struct {
	Store     *memory.Store
	Codec     *security.Codec
	PublicKey ed25519.PublicKey
	Manager   *license.Manager
}

// NewLicenseEnv builds a ready LicenseEnv
func NewLicenseEnv(t *testing.T, opts ...license.Option) *LicenseEnv {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := &LicenseEnv{
		Store:     memory.New(),
		Codec:     security.NewCodecWithKey(priv, nil),
		PublicKey: pub,
	}
	env.Manager = license.NewManager(env.Store, env.Codec, nil, opts...)
	return env
}

// SeedOptions shapes a seeded license; zero values pick test defaults
type SeedOptions struct {
	Email          string
	Type           domain.LicenseType
	MaxActivations int
	ExpirationDate *time.Time
	Revoked        bool
}

// Seed grants a license and applies opts
func (e *LicenseEnv) Seed(t *testing.T, opts SeedOptions) *domain.License {
	t.Helper()
	if opts.Email == "" {
		opts.Email = "artist@example.com"
	}
	if opts.MaxActivations == 0 {
		opts.MaxActivations = 2
	}

	ctx := context.Background()
	l, err := e.Manager.Grant(ctx, license.GrantInput{
		Email:          opts.Email,
		Type:           opts.Type,
		MaxActivations: opts.MaxActivations,
		ExpirationDate: opts.ExpirationDate,
	})
	require.NoError(t, err)

	if opts.Revoked {
		require.NoError(t, e.Manager.Revoke(ctx, l.Key))
		l.Revoked = true
	}
	return l
}

// Open decrypts and verifies a sealed license for machineID
func (e *LicenseEnv) Open(t *testing.T, data, signature, machineID string) domain.LicensePayload {
	t.Helper()
	require.True(t, security.VerifySealed(e.PublicKey, security.SealedLicense{Data: data, Signature: signature}),
		"signature does not verify")
	payload, err := e.Codec.DecryptLicenseData(data, machineID)
	require.NoError(t, err)
	return payload
}
