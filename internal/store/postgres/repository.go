package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"licensesrv/internal/license"
	"licensesrv/pkg/contracts/domain"
)

// Store implements license.Store on Postgres
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open gorm connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ license.Store = (*Store)(nil)

// Close closes the underlying pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) FindLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	var row licenseRow
	err := s.db.WithContext(ctx).
		Table("licenses AS l").
		Select("l.*, u.email AS owner_email").
		Joins("JOIN users u ON u.id = l.user_id").
		Where("l.license_key = ?", key).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, license.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("find license: %w", err)
	}
	return row.toDomain()
}

func (s *Store) FindActivation(ctx context.Context, licenseID, machineID string) (*domain.Activation, error) {
	rec, err := findActivation(s.db.WithContext(ctx), licenseID, machineID)
	if err != nil {
		return nil, err
	}
	a := rec.toDomain()
	return &a, nil
}

func findActivation(tx *gorm.DB, licenseID, machineID string) (activationModel, error) {
	var rec activationModel
	err := tx.Where("license_id = ? AND machine_id = ?", licenseID, machineID).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rec, license.ErrActivationNotFound
		}
		return rec, fmt.Errorf("find activation: %w", err)
	}
	return rec, nil
}

func (s *Store) CountActivations(ctx context.Context, licenseID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&activationModel{}).Where("license_id = ?", licenseID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return int(n), nil
}

// CreateActivation locks the license row, so concurrent inserts for one
// license run one at a time, then inserts with ON CONFLICT DO NOTHING on the
// (license_id, machine_id) constraint.
func (s *Store) CreateActivation(ctx context.Context, activation *domain.Activation, max int) (bool, int, error) {
	var (
		created bool
		count   int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", activation.LicenseID).
			Take(&lic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return license.ErrLicenseNotFound
			}
			return err
		}

		var n int64
		if err := tx.Model(&activationModel{}).Where("license_id = ?", activation.LicenseID).Count(&n).Error; err != nil {
			return err
		}
		count = int(n)

		existing, err := findActivation(tx, activation.LicenseID, activation.MachineID)
		if err == nil {
			*activation = existing.toDomain()
			return nil
		}
		if !errors.Is(err, license.ErrActivationNotFound) {
			return err
		}

		if count >= max {
			return license.ErrActivationLimit
		}

		if activation.ID == "" {
			activation.ID = uuid.NewString()
		}
		if activation.CreatedAt.IsZero() {
			activation.CreatedAt = time.Now().UTC()
		}
		rec := activationFromDomain(activation)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_id"}, {Name: "machine_id"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return res.Error
		}
		if res.Error == nil && res.RowsAffected == 1 {
			created = true
			count++
			return nil
		}

		existing, err = findActivation(tx, activation.LicenseID, activation.MachineID)
		if err != nil {
			return err
		}
		*activation = existing.toDomain()
		return nil
	})
	if err != nil {
		if errors.Is(err, license.ErrActivationLimit) || errors.Is(err, license.ErrLicenseNotFound) {
			return false, count, err
		}
		return false, count, fmt.Errorf("create activation: %w", err)
	}
	return created, count, nil
}

func (s *Store) DeleteActivation(ctx context.Context, licenseID, machineID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("license_id = ? AND machine_id = ?", licenseID, machineID).
		Delete(&activationModel{})
	if res.Error != nil {
		return false, fmt.Errorf("delete activation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) TouchActivation(ctx context.Context, activationID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&activationModel{}).
		Where("id = ?", activationID).
		Update("last_validated_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch activation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return license.ErrActivationNotFound
	}
	return nil
}

func (s *Store) ListActivations(ctx context.Context, licenseID string) ([]domain.Activation, error) {
	var recs []activationModel
	if err := s.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	out := make([]domain.Activation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

func (s *Store) SetRevoked(ctx context.Context, licenseID string, revoked bool) error {
	res := s.db.WithContext(ctx).
		Model(&licenseModel{}).
		Where("id = ?", licenseID).
		Updates(map[string]any{
			"revoked":    revoked,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set revoked: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

func (s *Store) CreateLicense(ctx context.Context, l *domain.License) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	rec := licenseFromDomain(l)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return license.ErrDuplicateLicenseKey
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *Store) FindOrCreateUser(ctx context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	db := s.db.WithContext(ctx)

	rec := userModel{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	var found userModel
	if err := db.Where("email = ?", email).Take(&found).Error; err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &domain.User{ID: found.ID, Email: found.Email, CreatedAt: found.CreatedAt}, nil
}
