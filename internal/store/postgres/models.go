package postgres

import (
	"time"

	"licensesrv/pkg/contracts/domain"
)

type userModel struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userModel) TableName() string { return "users" }

type licenseModel struct {
	ID             string     `gorm:"column:id;type:uuid;primaryKey"`
	Key            string     `gorm:"column:license_key"`
	UserID         string     `gorm:"column:user_id;type:uuid"`
	LicenseType    string     `gorm:"column:license_type"`
	ExpirationDate *time.Time `gorm:"column:expiration_date"`
	Revoked        bool       `gorm:"column:revoked"`
	MaxActivations int        `gorm:"column:max_activations"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

// licenseRow is a license joined with its owner's email
type licenseRow struct {
	licenseModel
	OwnerEmail string `gorm:"column:owner_email"`
}

type activationModel struct {
	ID              string     `gorm:"column:id;type:uuid;primaryKey"`
	LicenseID       string     `gorm:"column:license_id;type:uuid"`
	MachineID       string     `gorm:"column:machine_id"`
	PluginVersion   string     `gorm:"column:plugin_version"`
	OSInfo          string     `gorm:"column:os_info"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	LastValidatedAt *time.Time `gorm:"column:last_validated_at"`
}

func (activationModel) TableName() string { return "activations" }

func (r licenseRow) toDomain() (*domain.License, error) {
	t, err := domain.ParseLicenseType(r.LicenseType)
	if err != nil {
		return nil, err
	}
	return &domain.License{
		ID:             r.ID,
		Key:            r.Key,
		UserID:         r.UserID,
		OwnerEmail:     r.OwnerEmail,
		Type:           t,
		ExpirationDate: r.ExpirationDate,
		Revoked:        r.Revoked,
		MaxActivations: r.MaxActivations,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func licenseFromDomain(l *domain.License) licenseModel {
	return licenseModel{
		ID:             l.ID,
		Key:            l.Key,
		UserID:         l.UserID,
		LicenseType:    l.Type.String(),
		ExpirationDate: l.ExpirationDate,
		Revoked:        l.Revoked,
		MaxActivations: l.MaxActivations,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func (m activationModel) toDomain() domain.Activation {
	return domain.Activation{
		ID:              m.ID,
		LicenseID:       m.LicenseID,
		MachineID:       m.MachineID,
		PluginVersion:   m.PluginVersion,
		OSInfo:          m.OSInfo,
		CreatedAt:       m.CreatedAt,
		LastValidatedAt: m.LastValidatedAt,
	}
}

func activationFromDomain(a *domain.Activation) activationModel {
	return activationModel{
		ID:              a.ID,
		LicenseID:       a.LicenseID,
		MachineID:       a.MachineID,
		PluginVersion:   a.PluginVersion,
		OSInfo:          a.OSInfo,
		CreatedAt:       a.CreatedAt,
		LastValidatedAt: a.LastValidatedAt,
	}
}
