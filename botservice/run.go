// Package botservice boots the parcelwatch process: storage, the portal
// poller, the chat transport and the operational HTTP surface.
package botservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcelwatch/parcelwatch/internal/api"
	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/bot/telegram"
	"github.com/parcelwatch/parcelwatch/internal/config"
	"github.com/parcelwatch/parcelwatch/internal/directory"
	"github.com/parcelwatch/parcelwatch/internal/flows"
	"github.com/parcelwatch/parcelwatch/internal/health"
	"github.com/parcelwatch/parcelwatch/internal/logger"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/remote/flypack"
	"github.com/parcelwatch/parcelwatch/internal/session"
	"github.com/parcelwatch/parcelwatch/internal/store"
	"github.com/parcelwatch/parcelwatch/internal/store/postgres"
	"github.com/parcelwatch/parcelwatch/internal/store/sqlite"
	syncer "github.com/parcelwatch/parcelwatch/internal/sync"
	"github.com/parcelwatch/parcelwatch/internal/vault"
)

// Run starts the bot service and blocks until shutdown or error.
func Run() error {
	log := logger.New("parcelwatch")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("portal", cfg.PortalBaseURL).
		Int("poll_interval_minutes", cfg.PollIntervalMinutes).
		Int("http_port", cfg.HTTPPort).
		Msg("Parcelwatch starting")

	ctx, stop := newServerContext()
	defer stop()

	st, db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	v, err := vault.New(cfg.VaultKeyDir, cfg.VaultPassphrase)
	if err != nil {
		log.Error().Err(err).Msg("Credential vault unavailable")
		return err
	}

	dir := directory.New(st.Users())
	if err := dir.Load(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to load user directory")
		return err
	}

	sessions := session.NewTracker(st.Sessions())
	if err := sessions.Load(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to restore chat sessions")
		return err
	}

	portal := flypack.New(cfg.PortalBaseURL, log)
	transport := telegram.New(cfg.TelegramToken, cfg.TelegramAPIURL, log)

	renderer := notify.NewRenderer(cfg.MaxMessageEntities)
	fanout := notify.NewFanout(transport, renderer, cfg.MaxMessageLength, cfg.MessagePause(), log)

	engine := syncer.NewEngine(portal, st, dir, v, fanout, cfg.PollInterval(), log)
	handler := flows.New(transport, st, v, dir, sessions, engine, fanout, renderer, cfg.MessagePause(), log)
	dispatcher := bot.NewDispatcher(transport, transport, handler, cfg.ErrorChannel, log)

	// Poll failures surface on the same error channel as update failures.
	engine.SetErrorReporter(dispatcher.Reporter().Report)
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("poll engine stopped")
		}
	}()

	go flushLoop(ctx, cfg.SessionFlushInterval(), sessions, dir, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, portal, transport)

	server := newHTTPServer(ctx, cfg, api.NewRouter(svcHealth.IsHealthy))
	httpErr := serveHTTP(server, log, cfg)

	dispErr := make(chan error, 1)
	go func() { dispErr <- dispatcher.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-httpErr:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	case err := <-dispErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Dispatcher failed")
			return err
		}
	}

	return shutdown(server, sessions, dir, log)
}

// openStore opens the configured driver and applies the schema.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("Postgres unavailable")
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewWithDB(db), db, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Error().Err(err).Msg("SQLite unavailable")
			return nil, nil, err
		}
		if err := sqlite.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlite.NewWithDB(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// flushLoop periodically persists in-memory session and directory state so a
// crash loses at most one interval of conversation progress.
func flushLoop(ctx context.Context, interval time.Duration, sessions *session.Tracker, dir *directory.Directory, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("session flush failed")
			}
			if err := dir.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("directory flush failed")
			}
		}
	}
}

// startHealthCheckers starts component checkers and the service aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, portal *flypack.Client, transport *telegram.Client) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.HealthChecker
	if pinger, ok := st.(health.HealthPinger); ok {
		storeChecker := health.NewPingChecker("store", pinger, log, probeTimeout)
		go storeChecker.Start(ctx, interval)
		checkers = append(checkers, storeChecker)
	}
	portalChecker := health.NewPingChecker("portal", portal, log, probeTimeout)
	go portalChecker.Start(ctx, interval)
	checkers = append(checkers, portalChecker)

	transportChecker := health.NewPingChecker("telegram", transport, log, probeTimeout)
	go transportChecker.Start(ctx, interval)
	checkers = append(checkers, transportChecker)

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// shutdown stops the HTTP server and flushes volatile state one last time.
func shutdown(server *http.Server, sessions *session.Tracker, dir *directory.Directory, log zerolog.Logger) error {
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sessions.Flush(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("final session flush failed")
	}
	if err := dir.Flush(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("final directory flush failed")
	}

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
