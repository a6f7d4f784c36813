// Package api contains API contract definitions for the plugin license server.
// Version v1 is the wire format the shipped plugin binaries speak; field
// names must not change.
package api

import (
	"strings"
	"time"

	"licensesrv/pkg/contracts/domain"
)

// License protocol requests

// ActivateRequest represents a license activation request from the plugin
type ActivateRequest struct {
	Email         string `json:"email" validate:"required"`
	LicenseKey    string `json:"license_key" validate:"required"`
	MachineID     string `json:"machine_id" validate:"required"`
	PluginVersion string `json:"plugin_version"`
	OSInfo        string `json:"os_info"`
}

// ValidateRequest represents a license validation request
type ValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	MachineID  string `json:"machine_id" validate:"required"`
}

// DeactivateRequest represents a license deactivation request
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	MachineID  string `json:"machine_id" validate:"required"`
}

// Admin requests

// GrantLicenseRequest creates a license for an owner
type GrantLicenseRequest struct {
	Email          string     `json:"email" validate:"required,email"`
	LicenseType    string     `json:"license_type" validate:"required"`
	MaxActivations int        `json:"max_activations" validate:"required,min=1,max=100"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// Normalize trims the free-text fields before validation
func (r *GrantLicenseRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.LicenseType = strings.TrimSpace(r.LicenseType)
}

// ActivationView is the admin representation of one ledger entry.
// The machine id is shown hashed.
type ActivationView struct {
	MachineHash     string     `json:"machine_hash"`
	PluginVersion   string     `json:"plugin_version"`
	OSInfo          string     `json:"os_info"`
	CreatedAt       time.Time  `json:"created_at"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// LicenseView is the admin representation of a license and its ledger
type LicenseView struct {
	License              domain.License   `json:"license"`
	Activations          []ActivationView `json:"activations"`
	RemainingActivations int              `json:"remaining_activations"`
}
