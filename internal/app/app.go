package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"licensesrv/internal/config"
	apierrors "licensesrv/internal/errors"
	"licensesrv/internal/infrastructure"
	"licensesrv/internal/license"
	"licensesrv/internal/lockout"
	"licensesrv/internal/middleware"
	"licensesrv/internal/security"
	"licensesrv/internal/services"
	"licensesrv/internal/store/memory"
	"licensesrv/internal/store/postgres"
	transport "licensesrv/internal/transport/http"
	"licensesrv/pkg/contracts"
)

// lockoutSweepInterval is how often expired in-memory lockout entries are dropped
const lockoutSweepInterval = time.Minute

// LedgerStore is a license store that can report its reachability
type LedgerStore interface {
	license.Store
	services.Pinger
}

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Store          LedgerStore
	Lockout        lockout.Store
	Codec          *security.Codec
	Manager        *license.Manager
	LicenseService services.LicenseService
	HealthService  *services.HealthService
	Handler        http.Handler
	Server         *http.Server

	memLockout  *lockout.MemoryStore
	rateLimiter *middleware.RateLimiter
	touch       *license.TouchDebouncer
	closers     []func() error
}

// Option configures NewApplication
type Option func(*Application)

// WithLogger replaces the process-wide logger built from config
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.Logger = logger }
}

// NewApplication wires every component from cfg. The returned application
// owns its connections; Close releases them.
func NewApplication(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
	}

	a.Logger.InfoContext(ctx, "Application starting",
		slog.String("name", infrastructure.ServiceName),
		slog.String("version", contracts.Version),
		slog.String("store", cfg.Database.Driver))

	if err := a.initialize(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) initialize(ctx context.Context) error {
	cfg := a.Config

	providers, err := infrastructure.InitializeOTel(ctx, infrastructure.NewOTelConfig(cfg.Telemetry), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	store, closeStore, err := OpenStore(ctx, cfg.Database, a.Logger)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	var lockoutPinger services.Pinger
	if cfg.Redis.URL != "" {
		client, err := lockout.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisStore := lockout.NewRedisStore(client)
		a.Lockout = redisStore
		lockoutPinger = redisStore
		a.closers = append(a.closers, client.Close)
		a.Logger.InfoContext(ctx, "Lockout counters stored in redis")
	} else {
		a.memLockout = lockout.NewMemoryStore()
		a.Lockout = a.memLockout
		a.Logger.InfoContext(ctx, "Lockout counters kept in process memory")
	}

	a.Codec = NewCodec(cfg.License, a.Logger)
	// boot carries on without a key so health stays reachable
	if err := a.Codec.Ensure(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Signing key not loaded, license issuance will fail until it is configured",
			slog.String("error", err.Error()),
			slog.String("error_type", "configuration"))
	}

	metrics, err := license.InitializeMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}
	a.touch, err = license.NewTouchDebouncer(cfg.License.TouchInterval, cfg.License.CacheSize)
	if err != nil {
		return err
	}
	a.Manager = license.NewManager(a.Store, a.Codec, a.Logger,
		license.WithMetrics(metrics),
		license.WithTouchDebouncer(a.touch),
	)

	a.LicenseService = services.NewLicenseService(a.Manager, a.Lockout, services.LockoutPolicy{
		Threshold: cfg.License.LockoutThreshold,
		Window:    cfg.License.LockoutWindow,
	}, a.Logger)
	a.HealthService = services.NewHealthService(a.Store, lockoutPinger, a.Codec, a.Logger)

	return a.setupRouter()
}

func (a *Application) setupRouter() error {
	cfg := a.Config

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create HTTP telemetry middleware: %w", err)
	}

	routerCfg := transport.RouterConfig{
		Logger:         a.Logger,
		ErrHandler:     apierrors.NewErrorHandler(a.Logger, cfg.Telemetry.Environment == "development"),
		License:        a.LicenseService,
		Health:         a.HealthService,
		AdminAPIKeys:   cfg.Security.AdminAPIKeys,
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustProxy:     cfg.Security.TrustProxy,
		OTel:           otelMiddleware,
		Metrics:        a.OTelProviders.PrometheusHTTP,
	}

	if rl := cfg.Security.RateLimit; rl.Enabled {
		a.rateLimiter, err = middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		routerCfg.RateLimiter = a.rateLimiter
	}
	if cfg.Security.EnableCORS {
		routerCfg.CORS = &middleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Logger:         a.Logger,
		}
	}
	if len(cfg.Security.AdminAPIKeys) == 0 {
		a.Logger.Warn("No admin API keys configured, admin endpoints will refuse every request")
	}

	a.Handler = transport.NewRouter(routerCfg)
	a.Server = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        a.Handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
	return nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts the
// server down within the configured timeout
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(context.Background(), "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if a.memLockout != nil {
		g.Go(func() error {
			ticker := time.NewTicker(lockoutSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := a.memLockout.Sweep(); n > 0 {
						a.Logger.DebugContext(gctx, "Expired lockout entries removed", slog.Int("count", n))
					}
				}
			}
		})
	}

	err := g.Wait()
	a.Logger.InfoContext(context.Background(), "Application stopped")
	return err
}

// Close releases connections, caches and telemetry providers
func (a *Application) Close() error {
	var errs []error

	if a.rateLimiter != nil {
		a.rateLimiter.Close()
	}
	if a.touch != nil {
		a.touch.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.OTelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured license store, applying migrations first
// when the postgres driver has auto-migrate on
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (LedgerStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.WarnContext(ctx, "Using the in-memory license store, data is lost on exit")
		return memory.New(), func() error { return nil }, nil
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.URL, postgres.Up); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		db, err := postgres.Connect(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store := postgres.NewStore(db)
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// NewCodec builds the payload codec from the configured key locations
func NewCodec(cfg config.LicenseConfig, logger *slog.Logger) *security.Codec {
	return security.NewCodec(security.KeySource{
		Inline: cfg.PrivateKey,
		File:   cfg.PrivateKeyFile,
	}, logger)
}
