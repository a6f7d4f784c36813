package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"licensesrv/internal/license"
	"licensesrv/internal/lockout"
	"licensesrv/internal/security"
	"licensesrv/pkg/contracts/domain"
)

// LicenseService is the protocol surface consumed by the HTTP handlers
type LicenseService interface {
	Activate(ctx context.Context, in license.ActivateInput, clientIP string) (*license.ActivateResult, error)
	Validate(ctx context.Context, licenseKey, machineID string) (*license.ValidateResult, error)
	Deactivate(ctx context.Context, licenseKey, machineID string) (*license.DeactivateResult, error)

	Grant(ctx context.Context, in license.GrantInput) (*domain.License, error)
	Revoke(ctx context.Context, licenseKey string) error
	Reinstate(ctx context.Context, licenseKey string) error
	Describe(ctx context.Context, licenseKey string) (*license.Description, error)
}

// LicenseManager is the subset of license.Manager used by the service
type LicenseManager interface {
	Activate(ctx context.Context, in license.ActivateInput) (*license.ActivateResult, error)
	Validate(ctx context.Context, licenseKey, machineID string) (*license.ValidateResult, error)
	Deactivate(ctx context.Context, licenseKey, machineID string) (*license.DeactivateResult, error)
	Grant(ctx context.Context, in license.GrantInput) (*domain.License, error)
	Revoke(ctx context.Context, licenseKey string) error
	Reinstate(ctx context.Context, licenseKey string) error
	Describe(ctx context.Context, licenseKey string) (*license.Description, error)
}

// LockoutPolicy bounds failed activation attempts per client
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

type licenseService struct {
	manager LicenseManager
	lockout lockout.Store
	policy  LockoutPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// NewLicenseService creates the throttled license service. A nil lockout
// store disables throttling.
func NewLicenseService(manager LicenseManager, store lockout.Store, policy LockoutPolicy, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager: manager,
		lockout: store,
		policy:  policy,
		now:     time.Now,
		logger:  logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) throttled() bool {
	return s.lockout != nil && s.policy.Threshold > 0 && s.policy.Window > 0
}

// Activate refuses locked-out clients, then delegates to the manager and
// books the outcome against the client
func (s *licenseService) Activate(ctx context.Context, in license.ActivateInput, clientIP string) (*license.ActivateResult, error) {
	traceID := middleware.GetReqID(ctx)
	key := lockoutKey(clientIP)

	if s.throttled() && key != "" {
		state, err := s.lockout.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "Lockout lookup failed, allowing attempt",
				slog.String("error", err.Error()),
				slog.String("trace_id", traceID))
		} else if now := s.now(); state.Locked(now) {
			s.logger.WarnContext(ctx, "Activation refused for locked out client",
				slog.String("client", clientIP),
				slog.Int("failed_count", state.FailedCount),
				slog.String("trace_id", traceID))
			return nil, &TooManyAttemptsError{RetryAfter: state.RetryAfter(now)}
		}
	}

	result, err := s.manager.Activate(ctx, in)
	if !s.throttled() || key == "" {
		return result, err
	}

	switch {
	case err == nil:
		if resetErr := s.lockout.Reset(ctx, key); resetErr != nil {
			s.logger.WarnContext(ctx, "Failed to clear lockout counter",
				slog.String("error", resetErr.Error()),
				slog.String("trace_id", traceID))
		}
	case countsAsGuess(err):
		state, recErr := s.lockout.RecordFailure(ctx, key, s.now(), s.policy.Threshold, s.policy.Window)
		if recErr != nil {
			s.logger.WarnContext(ctx, "Failed to record activation failure",
				slog.String("error", recErr.Error()),
				slog.String("trace_id", traceID))
			break
		}
		if state.Locked(s.now()) {
			s.logger.WarnContext(ctx, "Client locked out after repeated failed activations",
				slog.String("client", clientIP),
				slog.String("license_key", security.MaskLicenseKey(in.LicenseKey)),
				slog.Int("failed_count", state.FailedCount),
				slog.String("trace_id", traceID))
		}
	}
	return result, err
}

func (s *licenseService) Validate(ctx context.Context, licenseKey, machineID string) (*license.ValidateResult, error) {
	return s.manager.Validate(ctx, licenseKey, machineID)
}

func (s *licenseService) Deactivate(ctx context.Context, licenseKey, machineID string) (*license.DeactivateResult, error) {
	return s.manager.Deactivate(ctx, licenseKey, machineID)
}

func (s *licenseService) Grant(ctx context.Context, in license.GrantInput) (*domain.License, error) {
	return s.manager.Grant(ctx, in)
}

func (s *licenseService) Revoke(ctx context.Context, licenseKey string) error {
	return s.manager.Revoke(ctx, licenseKey)
}

func (s *licenseService) Reinstate(ctx context.Context, licenseKey string) error {
	return s.manager.Reinstate(ctx, licenseKey)
}

func (s *licenseService) Describe(ctx context.Context, licenseKey string) (*license.Description, error) {
	return s.manager.Describe(ctx, licenseKey)
}

// countsAsGuess reports the rejections produced by guessing keys or emails
func countsAsGuess(err error) bool {
	return errors.Is(err, license.ErrLicenseNotFound) || errors.Is(err, license.ErrEmailMismatch)
}

func lockoutKey(clientIP string) string {
	if clientIP == "" {
		return ""
	}
	return "activate:" + clientIP
}
