// Package memory is an in-process implementation of the license store.
// It enforces the same (license, machine) uniqueness and activation limit as
// the Postgres store and is meant for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"licensesrv/internal/license"
	"licensesrv/pkg/contracts/domain"
)

type pairKey struct {
	licenseID string
	machineID string
}

// Store keeps users, licenses and activations in maps guarded by one mutex
type Store struct {
	mu          sync.Mutex
	users       map[string]*domain.User // by lower-case email
	licenses    map[string]*domain.License
	keys        map[string]string // license key -> license id
	activations map[pairKey]*domain.Activation
	now         func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		licenses:    make(map[string]*domain.License),
		keys:        make(map[string]string),
		activations: make(map[pairKey]*domain.Activation),
		now:         time.Now,
	}
}

var _ license.Store = (*Store)(nil)

// FindLicenseByKey returns a copy of the license with key
func (s *Store) FindLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	l := *s.licenses[id]
	return &l, nil
}

// FindActivation returns a copy of the activation for the pair
func (s *Store) FindActivation(ctx context.Context, licenseID, machineID string) (*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[pairKey{licenseID, machineID}]
	if !ok {
		return nil, license.ErrActivationNotFound
	}
	out := *a
	return &out, nil
}

// CountActivations counts the license's activations
func (s *Store) CountActivations(ctx context.Context, licenseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(licenseID), nil
}

func (s *Store) countLocked(licenseID string) int {
	n := 0
	for k := range s.activations {
		if k.licenseID == licenseID {
			n++
		}
	}
	return n
}

// CreateActivation inserts the activation unless the pair exists or the
// license is full. The check and the insert happen under one lock.
func (s *Store) CreateActivation(ctx context.Context, activation *domain.Activation, max int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{activation.LicenseID, activation.MachineID}
	if existing, ok := s.activations[k]; ok {
		*activation = *existing
		return false, s.countLocked(activation.LicenseID), nil
	}

	count := s.countLocked(activation.LicenseID)
	if count >= max {
		return false, count, license.ErrActivationLimit
	}

	if activation.ID == "" {
		activation.ID = uuid.NewString()
	}
	if activation.CreatedAt.IsZero() {
		activation.CreatedAt = s.now().UTC()
	}
	stored := *activation
	s.activations[k] = &stored
	return true, count + 1, nil
}

// DeleteActivation removes the pair if present
func (s *Store) DeleteActivation(ctx context.Context, licenseID, machineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{licenseID, machineID}
	if _, ok := s.activations[k]; !ok {
		return false, nil
	}
	delete(s.activations, k)
	return true, nil
}

// TouchActivation sets the last validation time of an activation
func (s *Store) TouchActivation(ctx context.Context, activationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.activations {
		if a.ID == activationID {
			t := at
			a.LastValidatedAt = &t
			return nil
		}
	}
	return license.ErrActivationNotFound
}

// ListActivations returns the license's activations, oldest first
func (s *Store) ListActivations(ctx context.Context, licenseID string) ([]domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Activation, 0)
	for k, a := range s.activations {
		if k.licenseID == licenseID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetRevoked updates the revoked flag
func (s *Store) SetRevoked(ctx context.Context, licenseID string, revoked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[licenseID]
	if !ok {
		return license.ErrLicenseNotFound
	}
	l.Revoked = revoked
	l.UpdatedAt = s.now().UTC()
	return nil
}

// CreateLicense stores a new license. The owner must exist.
func (s *Store) CreateLicense(ctx context.Context, l *domain.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[l.Key]; exists {
		return license.ErrDuplicateLicenseKey
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	for _, u := range s.users {
		if u.ID == l.UserID {
			l.OwnerEmail = u.Email
			break
		}
	}
	stored := *l
	s.licenses[l.ID] = &stored
	s.keys[l.Key] = l.ID
	return nil
}

// FindOrCreateUser returns the user with email, creating it if needed
func (s *Store) FindOrCreateUser(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if u, ok := s.users[email]; ok {
		out := *u
		return &out, nil
	}
	u := &domain.User{ID: uuid.NewString(), Email: email, CreatedAt: s.now().UTC()}
	s.users[email] = u
	out := *u
	return &out, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
