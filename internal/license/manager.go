package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"licensesrv/internal/security"
	"licensesrv/pkg/contracts/domain"
)

const maxActivationsCeiling = 100

// Codec is the part of the payload codec the ledger needs
type Codec interface {
	Ensure(ctx context.Context) error
	Seal(payload domain.LicensePayload, machineID string) (security.SealedLicense, error)
}

// ActivateInput is a plugin activation request
type ActivateInput struct {
	Email         string
	LicenseKey    string
	MachineID     string
	PluginVersion string
	OSInfo        string
}

// ActivateResult is a freshly sealed license for the requesting machine
type ActivateResult struct {
	LicenseData          string
	Signature            string
	RemainingActivations int
	Reactivated          bool
	License              *domain.License
}

// ValidateResult describes a license that is currently valid on a machine
type ValidateResult struct {
	License    *domain.License
	Activation *domain.Activation
}

// DeactivateResult reports whether a slot was freed
type DeactivateResult struct {
	Removed bool
}

// GrantInput creates a new license
type GrantInput struct {
	Email          string
	Type           domain.LicenseType
	MaxActivations int
	ExpirationDate *time.Time
}

// Description is a license with its current ledger
type Description struct {
	License              *domain.License
	Activations          []domain.Activation
	RemainingActivations int
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records operation metrics
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTouchDebouncer limits last-validated writes
func WithTouchDebouncer(d *TouchDebouncer) Option {
	return func(m *Manager) { m.touch = d }
}

// Manager runs the activation, validation and deactivation protocol
// against a Store. It holds no mutable ledger state of its own.
type Manager struct {
	store   Store
	codec   Codec
	logger  *slog.Logger
	metrics *Metrics
	touch   *TouchDebouncer
	now     func() time.Time
}

// NewManager creates a license manager
func NewManager(store Store, codec Codec, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		codec:  codec,
		logger: logger.With(slog.String("component", "license_manager")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Activate binds a machine to a license and returns a sealed payload.
// Re-activating an already bound machine re-issues the payload without
// consuming another slot.
func (m *Manager) Activate(ctx context.Context, in ActivateInput) (result *ActivateResult, err error) {
	start := time.Now()
	ctx, span := tracer().Start(ctx, "license.activate")
	defer func() {
		outcome := outcomeOf(err)
		if err == nil && result != nil && result.Reactivated {
			outcome = OutcomeReactivated
		}
		m.finish(ctx, span, err, outcome)
		if m.metrics != nil {
			m.metrics.record(ctx, m.metrics.Activations, "activate", outcome, start)
		}
	}()

	email := strings.TrimSpace(in.Email)
	key := NormalizeLicenseKey(in.LicenseKey)
	if err := requireFields("email", email, "license_key", key, "machine_id", strings.TrimSpace(in.MachineID)); err != nil {
		return nil, err
	}
	machineID, err := security.NormalizeMachineID(in.MachineID)
	if err != nil {
		return nil, err
	}
	if err := m.codec.Ensure(ctx); err != nil {
		return nil, err
	}

	logger := m.logger.With(
		slog.String("license_key", security.MaskLicenseKey(key)),
		slog.String("machine", security.HashMachineID(machineID)),
	)

	lic, err := m.store.FindLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("license.id", lic.ID))

	if err := checkUsable(lic, m.now()); err != nil {
		logger.InfoContext(ctx, "Activation rejected", slog.String("reason", err.Error()))
		return nil, err
	}
	if !strings.EqualFold(email, strings.TrimSpace(lic.OwnerEmail)) {
		logger.InfoContext(ctx, "Activation rejected", slog.String("reason", ErrEmailMismatch.Error()))
		return nil, ErrEmailMismatch
	}

	activation, err := m.store.FindActivation(ctx, lic.ID, machineID)
	switch {
	case err == nil:
		count, err := m.store.CountActivations(ctx, lic.ID)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "Machine re-activated")
		return m.issue(lic, activation, count, true)
	case !errors.Is(err, ErrActivationNotFound):
		return nil, err
	}

	// optimistic pre-check, CreateActivation is authoritative
	count, err := m.store.CountActivations(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	if count >= lic.MaxActivations {
		// the same machine may have been inserted by a concurrent request
		if existing, err := m.store.FindActivation(ctx, lic.ID, machineID); err == nil {
			return m.issue(lic, existing, count, true)
		}
		logger.InfoContext(ctx, "Activation rejected",
			slog.String("reason", ErrActivationLimit.Error()),
			slog.Int("max_activations", lic.MaxActivations),
		)
		return nil, ErrActivationLimit
	}

	activation = &domain.Activation{
		ID:            uuid.NewString(),
		LicenseID:     lic.ID,
		MachineID:     machineID,
		PluginVersion: strings.TrimSpace(in.PluginVersion),
		OSInfo:        strings.TrimSpace(in.OSInfo),
		CreatedAt:     m.now().UTC(),
	}
	created, count, err := m.store.CreateActivation(ctx, activation, lic.MaxActivations)
	if err != nil {
		if errors.Is(err, ErrActivationLimit) {
			logger.InfoContext(ctx, "Activation rejected at insert",
				slog.String("reason", ErrActivationLimit.Error()),
			)
		}
		return nil, err
	}

	if created {
		logger.InfoContext(ctx, "Machine activated", slog.Int("activations", count))
	} else {
		logger.InfoContext(ctx, "Concurrent activation of the same machine resolved to existing row")
	}
	return m.issue(lic, activation, count, !created)
}

func (m *Manager) issue(lic *domain.License, activation *domain.Activation, count int, reactivated bool) (*ActivateResult, error) {
	payload := domain.NewLicensePayload(lic, activation.MachineID, activation.CreatedAt, m.now())
	sealed, err := m.codec.Seal(payload, activation.MachineID)
	if err != nil {
		return nil, fmt.Errorf("seal license payload: %w", err)
	}

	remaining := lic.MaxActivations - count
	if remaining < 0 {
		remaining = 0
	}
	return &ActivateResult{
		LicenseData:          sealed.Data,
		Signature:            sealed.Signature,
		RemainingActivations: remaining,
		Reactivated:          reactivated,
		License:              lic,
	}, nil
}

// Validate reports whether the machine holds an activation of a usable
// license. It never creates an activation.
func (m *Manager) Validate(ctx context.Context, licenseKey, machineID string) (result *ValidateResult, err error) {
	start := time.Now()
	ctx, span := tracer().Start(ctx, "license.validate")
	defer func() {
		outcome := outcomeOf(err)
		m.finish(ctx, span, err, outcome)
		if m.metrics != nil {
			m.metrics.record(ctx, m.metrics.Validations, "validate", outcome, start)
		}
	}()

	key := NormalizeLicenseKey(licenseKey)
	if err := requireFields("license_key", key, "machine_id", strings.TrimSpace(machineID)); err != nil {
		return nil, err
	}
	machineID, err = security.NormalizeMachineID(machineID)
	if err != nil {
		return nil, err
	}
	if err := m.codec.Ensure(ctx); err != nil {
		return nil, err
	}

	lic, err := m.store.FindLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	activation, err := m.store.FindActivation(ctx, lic.ID, machineID)
	if err != nil {
		return nil, err
	}
	// revocation and expiry are read live on every call
	now := m.now()
	if err := checkUsable(lic, now); err != nil {
		return nil, err
	}

	if m.touch.ShouldTouch(lic.ID, machineID) {
		if err := m.store.TouchActivation(ctx, activation.ID, now.UTC()); err != nil {
			m.logger.WarnContext(ctx, "Failed to update last validation time",
				slog.String("activation_id", activation.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &ValidateResult{License: lic, Activation: activation}, nil
}

// Deactivate frees the machine's slot. It succeeds whether or not the
// machine, or the license, was known.
func (m *Manager) Deactivate(ctx context.Context, licenseKey, machineID string) (result *DeactivateResult, err error) {
	start := time.Now()
	ctx, span := tracer().Start(ctx, "license.deactivate")
	defer func() {
		outcome := outcomeOf(err)
		if err == nil && result != nil && !result.Removed {
			outcome = OutcomeNoop
		}
		m.finish(ctx, span, err, outcome)
		if m.metrics != nil {
			m.metrics.record(ctx, m.metrics.Deactivations, "deactivate", outcome, start)
		}
	}()

	key := NormalizeLicenseKey(licenseKey)
	if err := requireFields("license_key", key, "machine_id", strings.TrimSpace(machineID)); err != nil {
		return nil, err
	}
	machineID, err = security.NormalizeMachineID(machineID)
	if err != nil {
		return nil, err
	}
	if err := m.codec.Ensure(ctx); err != nil {
		return nil, err
	}

	lic, err := m.store.FindLicenseByKey(ctx, key)
	if errors.Is(err, ErrLicenseNotFound) {
		return &DeactivateResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	removed, err := m.store.DeleteActivation(ctx, lic.ID, machineID)
	if err != nil {
		return nil, err
	}
	m.touch.Forget(lic.ID, machineID)

	if removed {
		m.logger.InfoContext(ctx, "Machine deactivated",
			slog.String("license_key", security.MaskLicenseKey(key)),
			slog.String("machine", security.HashMachineID(machineID)),
		)
	}
	return &DeactivateResult{Removed: removed}, nil
}

// Grant creates a license for the owner email, creating the owner if needed
func (m *Manager) Grant(ctx context.Context, in GrantInput) (*domain.License, error) {
	ctx, span := tracer().Start(ctx, "license.grant")
	var err error
	defer func() { m.finish(ctx, span, err, outcomeOf(err)) }()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		err = MissingField("email")
		return nil, err
	}
	if !in.Type.Valid() {
		err = ErrInvalidLicenseType
		return nil, err
	}
	if in.MaxActivations < 1 || in.MaxActivations > maxActivationsCeiling {
		err = ErrInvalidActivations
		return nil, err
	}

	user, err := m.store.FindOrCreateUser(ctx, email)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	lic := &domain.License{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		OwnerEmail:     user.Email,
		Type:           in.Type,
		ExpirationDate: in.ExpirationDate,
		MaxActivations: in.MaxActivations,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 0; attempt < 3; attempt++ {
		lic.Key, err = GenerateLicenseKey()
		if err != nil {
			return nil, err
		}
		err = m.store.CreateLicense(ctx, lic)
		if !errors.Is(err, ErrDuplicateLicenseKey) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "License granted",
		slog.String("license_key", security.MaskLicenseKey(lic.Key)),
		slog.String("license_type", lic.Type.String()),
		slog.Int("max_activations", lic.MaxActivations),
	)
	return lic, nil
}

// Revoke marks a license revoked. Existing activations stop validating.
func (m *Manager) Revoke(ctx context.Context, licenseKey string) error {
	return m.setRevoked(ctx, licenseKey, true)
}

// Reinstate clears the revoked flag
func (m *Manager) Reinstate(ctx context.Context, licenseKey string) error {
	return m.setRevoked(ctx, licenseKey, false)
}

func (m *Manager) setRevoked(ctx context.Context, licenseKey string, revoked bool) error {
	key := NormalizeLicenseKey(licenseKey)
	if key == "" {
		return MissingField("license_key")
	}
	lic, err := m.store.FindLicenseByKey(ctx, key)
	if err != nil {
		return err
	}
	if err := m.store.SetRevoked(ctx, lic.ID, revoked); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "License revocation changed",
		slog.String("license_key", security.MaskLicenseKey(key)),
		slog.Bool("revoked", revoked),
	)
	return nil
}

// Describe returns a license and its current activations
func (m *Manager) Describe(ctx context.Context, licenseKey string) (*Description, error) {
	key := NormalizeLicenseKey(licenseKey)
	if key == "" {
		return nil, MissingField("license_key")
	}
	lic, err := m.store.FindLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	activations, err := m.store.ListActivations(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	remaining := lic.MaxActivations - len(activations)
	if remaining < 0 {
		remaining = 0
	}
	return &Description{License: lic, Activations: activations, RemainingActivations: remaining}, nil
}

func (m *Manager) finish(ctx context.Context, span trace.Span, err error, outcome string) {
	span.SetAttributes(attribute.String("license.outcome", outcome))
	if err != nil && !IsRejection(err) && outcome != OutcomeInvalidInput {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func checkUsable(lic *domain.License, now time.Time) error {
	if lic.Revoked {
		return ErrLicenseRevoked
	}
	if lic.Expired(now) {
		return ErrLicenseExpired
	}
	return nil
}

// requireFields takes name/value pairs and reports the first empty value
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return MissingField(pairs[i])
		}
	}
	return nil
}
