package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licensesrv/internal/security"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// Outcome labels recorded on the operation counters
const (
	OutcomeSuccess      = "success"
	OutcomeReactivated  = "reactivated"
	OutcomeNotFound     = "not_found"
	OutcomeRevoked      = "revoked"
	OutcomeExpired      = "expired"
	OutcomeMismatch     = "email_mismatch"
	OutcomeLimit        = "limit_reached"
	OutcomeNotActivated = "not_activated"
	OutcomeNoop         = "noop"
	OutcomeInvalidInput = "invalid_input"
	OutcomeError        = "error"
)

// Metrics holds the ledger's OpenTelemetry instruments
type Metrics struct {
	Activations   metric.Int64Counter
	Validations   metric.Int64Counter
	Deactivations metric.Int64Counter
	Duration      metric.Float64Histogram
}

// InitializeMetrics creates the ledger instruments on meter
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("License activation requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validation requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.Deactivations, err = meter.Int64Counter(
		"license_deactivations_total",
		metric.WithDescription("License deactivation requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deactivations counter: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return m, nil
}

// NewMetrics initializes instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	return InitializeMetrics(otel.Meter(MeterName))
}

func (m *Metrics) record(ctx context.Context, counter metric.Int64Counter, operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.Duration != nil {
		m.Duration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("operation", operation)))
	}
}

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// outcomeOf maps an operation error to its metric label
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrLicenseNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrLicenseRevoked):
		return OutcomeRevoked
	case errors.Is(err, ErrLicenseExpired):
		return OutcomeExpired
	case errors.Is(err, ErrEmailMismatch):
		return OutcomeMismatch
	case errors.Is(err, ErrActivationLimit):
		return OutcomeLimit
	case errors.Is(err, ErrActivationNotFound):
		return OutcomeNotActivated
	case errors.Is(err, ErrMissingField), errors.Is(err, security.ErrInvalidMachineID):
		return OutcomeInvalidInput
	default:
		return OutcomeError
	}
}
