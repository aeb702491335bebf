// Package app wires the Convoy server runtime: config, logging, storage,
// notification and throttling backends, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"convoy/cmd/internal/auth"
	"convoy/cmd/internal/messaging"
	messagingapi "convoy/cmd/internal/messaging/api"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the Convoy server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	svc      *messaging.Service
	api      *messagingapi.Handler

	// closers release backend resources in reverse order on shutdown.
	closers []io.Closer
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, errors.New("config: CONVOY_PASETO_V4_PUBLIC_KEY_HEX is required")
	}
	verifier, err := auth.NewPasetoV4PublicVerifier(authCfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{cfg: cfg, log: log, registry: reg}
	if err := a.wire(context.Background(), reg); err != nil {
		a.close()
		return nil, err
	}

	a.api, err = messagingapi.NewHandler(log, a.svc, verifier, messagingapi.Config{MaxBodyBytes: cfg.MaxBodyBytes})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// Service returns the wired messaging service.
func (a *App) Service() *messaging.Service { return a.svc }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.api)

	hm := newHTTPMetrics(a.registry)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(hm.WithMetrics(WithSecurityHeaders(mux)), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"notify_backend", a.cfg.NotifyBackend,
		"redis_enabled", a.cfg.RedisAddr != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}
	a.close()

	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Error("backend.close.fail", "err", err)
		}
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
