// Package domain contains the core domain models for the plugin license server.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LicenseType represents the purchased tier of a license.
// The numeric value is the type index carried in the license payload.
type LicenseType int

const (
	LicenseTypeStandard LicenseType = iota
	LicenseTypePro
)

var licenseTypeNames = map[LicenseType]string{
	LicenseTypeStandard: "STANDARD",
	LicenseTypePro:      "PRO",
}

// String returns the upper-case tier name
func (t LicenseType) String() string {
	if name, ok := licenseTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LicenseType(%d)", int(t))
}

// Index returns the numeric type index used in license payloads
func (t LicenseType) Index() int {
	return int(t)
}

// Valid reports whether t is a known tier
func (t LicenseType) Valid() bool {
	_, ok := licenseTypeNames[t]
	return ok
}

// ParseLicenseType parses a tier name case-insensitively
func ParseLicenseType(s string) (LicenseType, error) {
	needle := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range licenseTypeNames {
		if name == needle {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown license type %q", s)
}

// MarshalJSON encodes the tier by name
func (t LicenseType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid license type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name
func (t *LicenseType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLicenseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// User is the owner of licenses. Only the fields the license protocol needs.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// License represents a purchased entitlement
type License struct {
	ID             string      `json:"id"`
	Key            string      `json:"license_key"`
	UserID         string      `json:"user_id"`
	OwnerEmail     string      `json:"owner_email"`
	Type           LicenseType `json:"license_type"`
	ExpirationDate *time.Time  `json:"expiration_date,omitempty"`
	Revoked        bool        `json:"revoked"`
	MaxActivations int         `json:"max_activations"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Expired reports whether the license has an expiration date before now
func (l *License) Expired(now time.Time) bool {
	return l.ExpirationDate != nil && l.ExpirationDate.Before(now)
}

// Activation records one machine consuming one activation slot of a license
type Activation struct {
	ID              string     `json:"id"`
	LicenseID       string     `json:"license_id"`
	MachineID       string     `json:"machine_id"`
	PluginVersion   string     `json:"plugin_version"`
	OSInfo          string     `json:"os_info"`
	CreatedAt       time.Time  `json:"created_at"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// LicensePayload is the record a plugin decrypts. It is built fresh on every
// activation and only ever leaves the server encrypted.
type LicensePayload struct {
	Email          string `json:"email"`
	LicenseKey     string `json:"license_key"`
	MachineID      string `json:"machine_id"`
	Type           int    `json:"type"`
	ActivationDate int64  `json:"activation_date"`
	ExpirationDate int64  `json:"expiration_date"`
	LastValidation int64  `json:"last_validation"`
	LoadCount      int    `json:"load_count"`
}

// NewLicensePayload builds the payload for a license bound to machineID.
// A perpetual license carries an expiration date of zero.
func NewLicensePayload(l *License, machineID string, activatedAt, now time.Time) LicensePayload {
	var expires int64
	if l.ExpirationDate != nil {
		expires = l.ExpirationDate.Unix()
	}
	return LicensePayload{
		Email:          l.OwnerEmail,
		LicenseKey:     l.Key,
		MachineID:      machineID,
		Type:           l.Type.Index(),
		ActivationDate: activatedAt.Unix(),
		ExpirationDate: expires,
		LastValidation: now.Unix(),
		LoadCount:      0,
	}
}
