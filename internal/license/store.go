package license

import (
	"context"
	"time"

	"licensesrv/pkg/contracts/domain"
)

// Store is the persistence port of the activation ledger.
//
// CreateActivation is the enforcement point for both ledger invariants and
// must be atomic in the implementation: it inserts the activation unless the
// (license, machine) pair already exists, in which case it reports
// created=false, leaves the existing row untouched and copies it into
// activation. It returns ErrActivationLimit when inserting would push the
// count past max. The returned count is the number of activations after
// the call.
//
// FindLicenseByKey returns ErrLicenseNotFound and FindActivation returns
// ErrActivationNotFound when nothing matches.
type Store interface {
	FindLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	FindActivation(ctx context.Context, licenseID, machineID string) (*domain.Activation, error)
	CountActivations(ctx context.Context, licenseID string) (int, error)
	CreateActivation(ctx context.Context, activation *domain.Activation, max int) (created bool, count int, err error)
	DeleteActivation(ctx context.Context, licenseID, machineID string) (bool, error)
	TouchActivation(ctx context.Context, activationID string, at time.Time) error
	ListActivations(ctx context.Context, licenseID string) ([]domain.Activation, error)

	SetRevoked(ctx context.Context, licenseID string, revoked bool) error
	CreateLicense(ctx context.Context, license *domain.License) error
	FindOrCreateUser(ctx context.Context, email string) (*domain.User, error)

	Ping(ctx context.Context) error
}
