package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/middleware"
	"github.com/ehr/claims/internal/platform/telemetry"
	"github.com/ehr/claims/internal/platform/x12"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// buildTransport routes configs of type "simulated" to the simulator in
// every mode; other types go to the mode's default transport.
func buildTransport(cfg *config.Config, logger zerolog.Logger) claims.Transport {
	sim := claims.NewSimulatedTransport(cfg.ClearinghouseSimSeed)
	if cfg.ClearinghouseMode != config.ClearinghouseHTTP {
		return claims.NewTransportRouter(sim)
	}
	httpTransport := claims.NewHTTPTransport(claims.HTTPTransportConfig{
		Timeout:    cfg.ClearinghouseTimeout,
		MaxRetries: cfg.ClearinghouseMaxRetries,
		RateLimit:  cfg.ClearinghouseRateLimit,
	}, logger)
	router := claims.NewTransportRouter(httpTransport)
	router.Register(config.ClearinghouseSimulated, sim)
	return router
}

func buildEncoder(cfg *config.Config, numbers claims.ControlNumberSource) (*claims.Encoder, error) {
	term, err := cfg.SegmentTerminator()
	if err != nil {
		return nil, err
	}
	return claims.NewEncoder(numbers, claims.EncoderConfig{
		Delimiters:     x12.DefaultDelimiters.WithTerminator(term),
		UsageIndicator: cfg.X12UsageIndicator,
	}), nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newEcho wires global middleware and the unauthenticated operational
// routes. API routes are registered by the caller on the returned group.
func newEcho(logger zerolog.Logger, metrics *telemetry.Metrics, health db.Pinger, apiMiddleware ...echo.MiddlewareFunc) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(health))
	e.GET("/metrics", metrics.Handler())

	return e, e.Group("/api/v1", apiMiddleware...)
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics(telemetry.Config{ServiceName: "claims-server", Environment: cfg.Env})

	repos := claims.NewRepositoriesPG(pool)
	encoder, err := buildEncoder(cfg, claims.NewSequencer(repos.Sequences))
	if err != nil {
		return err
	}
	scope := func(ctx context.Context, tenantID string) (context.Context, func(), error) {
		return db.AcquireTenant(ctx, pool, tenantID)
	}

	svc := claims.NewService(repos, claims.NewSuperbillProviderPG(pool), encoder,
		buildTransport(cfg, logger), db.NewTxManager(pool), logger)
	svc.SetMetrics(metrics)
	svc.SetBatchConcurrency(cfg.BatchConcurrency)
	svc.SetTenantScope(scope)

	e, api := newEcho(logger, metrics, pool,
		authMiddleware(cfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
	)
	claims.NewHandler(svc).RegisterRoutes(api)

	if cfg.PollInterval > 0 {
		poller := claims.NewPoller(svc, scope, cfg.PollTenantIDs(), cfg.PollInterval, logger)
		go poller.Start(ctx)
		logger.Info().Dur("interval", cfg.PollInterval).Strs("tenants", cfg.PollTenantIDs()).Msg("status poller started")
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("clearinghouse_mode", cfg.ClearinghouseMode).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
