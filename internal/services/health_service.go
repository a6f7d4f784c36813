package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licensesrv/pkg/contracts"
)

// Health states
const (
	StatusOK       = "ok"
	StatusAlive    = "alive"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Pinger is a dependency whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyLoader loads the signing key on demand
type KeyLoader interface {
	Ensure(ctx context.Context) error
}

// HealthService provides health check functionality
type HealthService struct {
	store     Pinger
	lockout   Pinger
	keys      KeyLoader
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual dependency health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. lockout may be nil when
// attempts are tracked in process memory.
func NewHealthService(store Pinger, lockout Pinger, keys KeyLoader, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		lockout:   lockout,
		keys:      keys,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck reports whether the store, the lockout backend and the
// signing key are usable
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Services:  make(map[string]ServiceHealth),
	}

	status.Services["store"] = hs.check(ctx, "store", hs.store.Ping)
	if hs.lockout != nil {
		status.Services["lockout"] = hs.check(ctx, "lockout", hs.lockout.Ping)
	}
	status.Services["signing_key"] = hs.check(ctx, "signing_key", hs.keys.Ensure)

	for _, sh := range status.Services {
		if sh.Status != StatusReady {
			status.Status = StatusNotReady
			break
		}
	}
	return status
}

func (hs *HealthService) check(ctx context.Context, name string, probe func(context.Context) error) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := probe(ctx); err != nil {
		hs.logger.WarnContext(ctx, "Readiness probe failed",
			slog.String("dependency", name),
			slog.String("error", err.Error()))
		return ServiceHealth{Status: StatusNotReady, Message: name + " unavailable"}
	}
	return ServiceHealth{Status: StatusReady}
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Runtime: map[string]any{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}
