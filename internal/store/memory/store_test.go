package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/license"
	"licensesrv/pkg/contracts/domain"
)

func seedLicense(t *testing.T, s *Store, max int) *domain.License {
	t.Helper()
	ctx := context.Background()
	u, err := s.FindOrCreateUser(ctx, "Artist@Example.com")
	require.NoError(t, err)

	l := &domain.License{
		Key:            "ABCDE-FGHIJ-KLMNO-PQRST",
		UserID:         u.ID,
		Type:           domain.LicenseTypePro,
		MaxActivations: max,
	}
	require.NoError(t, s.CreateLicense(ctx, l))
	return l
}

func TestFindOrCreateUserLowercases(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.FindOrCreateUser(ctx, "Artist@Example.com")
	require.NoError(t, err)
	b, err := s.FindOrCreateUser(ctx, "  artist@example.COM ")
	require.NoError(t, err)

	assert.Equal(t, "artist@example.com", a.Email)
	assert.Equal(t, a.ID, b.ID)
}

func TestCreateLicense(t *testing.T) {
	s := New()
	l := seedLicense(t, s, 2)

	found, err := s.FindLicenseByKey(context.Background(), l.Key)
	require.NoError(t, err)
	assert.Equal(t, "artist@example.com", found.OwnerEmail)
	assert.Equal(t, 2, found.MaxActivations)

	dup := &domain.License{Key: l.Key, MaxActivations: 1}
	assert.ErrorIs(t, s.CreateLicense(context.Background(), dup), license.ErrDuplicateLicenseKey)

	_, err = s.FindLicenseByKey(context.Background(), "NOPE")
	assert.ErrorIs(t, err, license.ErrLicenseNotFound)
}

func TestCreateActivationUniqueAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := seedLicense(t, s, 2)

	first := &domain.Activation{LicenseID: l.ID, MachineID: "machine-0001", PluginVersion: "1.0.0"}
	created, count, err := s.CreateActivation(ctx, first, l.MaxActivations)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, count)

	again := &domain.Activation{LicenseID: l.ID, MachineID: "machine-0001", PluginVersion: "2.0.0"}
	created, count, err = s.CreateActivation(ctx, again, l.MaxActivations)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, count)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "1.0.0", again.PluginVersion, "existing row must be left untouched")

	_, count, err = s.CreateActivation(ctx, &domain.Activation{LicenseID: l.ID, MachineID: "machine-0002"}, l.MaxActivations)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, count, err = s.CreateActivation(ctx, &domain.Activation{LicenseID: l.ID, MachineID: "machine-0003"}, l.MaxActivations)
	assert.ErrorIs(t, err, license.ErrActivationLimit)
	assert.Equal(t, 2, count)
}

func TestCreateActivationConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := seedLicense(t, s, 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := &domain.Activation{LicenseID: l.ID, MachineID: fmt.Sprintf("machine-%04d", i)}
			created, _, err := s.CreateActivation(ctx, a, l.MaxActivations)
			if err == nil && created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	n, err := s.CountActivations(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, createdCount)
}

func TestDeleteAndTouchActivation(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := seedLicense(t, s, 2)

	a := &domain.Activation{LicenseID: l.ID, MachineID: "machine-0001"}
	_, _, err := s.CreateActivation(ctx, a, l.MaxActivations)
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, s.TouchActivation(ctx, a.ID, at))
	found, err := s.FindActivation(ctx, l.ID, "machine-0001")
	require.NoError(t, err)
	require.NotNil(t, found.LastValidatedAt)
	assert.True(t, at.Equal(*found.LastValidatedAt))

	removed, err := s.DeleteActivation(ctx, l.ID, "machine-0001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteActivation(ctx, l.ID, "machine-0001")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.FindActivation(ctx, l.ID, "machine-0001")
	assert.ErrorIs(t, err, license.ErrActivationNotFound)
	assert.ErrorIs(t, s.TouchActivation(ctx, a.ID, at), license.ErrActivationNotFound)
}

func TestSetRevokedAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := seedLicense(t, s, 2)

	require.NoError(t, s.SetRevoked(ctx, l.ID, true))
	found, err := s.FindLicenseByKey(ctx, l.Key)
	require.NoError(t, err)
	assert.True(t, found.Revoked)

	assert.ErrorIs(t, s.SetRevoked(ctx, "missing", true), license.ErrLicenseNotFound)

	base := time.Unix(1_700_000_000, 0)
	for i, m := range []string{"machine-0002", "machine-0001"} {
		a := &domain.Activation{LicenseID: l.ID, MachineID: m, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		_, _, err := s.CreateActivation(ctx, a, l.MaxActivations)
		require.NoError(t, err)
	}
	list, err := s.ListActivations(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "machine-0002", list[0].MachineID)

	empty, err := s.ListActivations(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
