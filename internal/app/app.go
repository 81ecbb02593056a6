package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"myaccountapp/account-client/internal/audit"
	"myaccountapp/account-client/internal/auth"
	"myaccountapp/account-client/internal/config"
	"myaccountapp/account-client/internal/httpserver"
	"myaccountapp/account-client/internal/netmon"
	"myaccountapp/account-client/internal/observability"
	"myaccountapp/account-client/internal/profile"
	"myaccountapp/account-client/internal/retry"
	"myaccountapp/account-client/internal/session"
)

type App struct {
	cfg         config.Config
	log         *slog.Logger
	db          *sql.DB
	monitor     *netmon.Monitor
	coordinator *session.Coordinator
	server      *httpserver.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewLogger()
	}

	var err error
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}

	var profiles session.ProfileStore
	if db != nil {
		profiles, err = profile.NewPostgresStore(db)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("create postgres profile store: %w", err)
		}
		logger.Info("profile store ready", "backend", "postgres")
	} else {
		profiles, err = profile.NewFileStore(cfg.ProfileStateFile)
		if err != nil {
			return nil, fmt.Errorf("create profile store: %w", err)
		}
		logger.Info("profile store ready", "backend", "file", "path", cfg.ProfileStateFile)
	}

	sessionStore, err := auth.NewFileSessionStore(cfg.SessionStateFile)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("create session store: %w", err)
	}
	authService, err := auth.NewService(auth.ServiceConfig{
		BaseURL:        cfg.Backend.BaseURL,
		TokenURL:       cfg.Backend.TokenURL,
		APIKey:         cfg.Backend.APIKey,
		RequestTimeout: cfg.Backend.RequestTimeout,
		SessionStore:   sessionStore,
	})
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("create auth service: %w", err)
	}
	if err := authService.LoadSessionState(); err != nil {
		closeDB()
		return nil, fmt.Errorf("load auth session state: %w", err)
	}

	monitor := newMonitor(cfg.Network, logger.With("component", "netmon"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewCollector(registry)

	coordinator, err := session.NewCoordinator(session.Deps{
		Auth:     authService,
		Profiles: profiles,
		Network:  monitor,
		Metrics:  metrics,
		Logger:   logger.With("component", "session"),
		Sleeper:  retry.ClockSleeper{},
	}, session.Config{
		Retry: retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay},
	})
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("create session coordinator: %w", err)
	}

	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Coordinator:    coordinator,
		Audit:          audit.NewLogger(cfg.AuditLogFile),
		Metrics:        observability.Handler(registry),
		Logger:         logger,
		Token:          cfg.Bridge.Token,
		AllowedOrigins: splitList(cfg.Bridge.AllowedOrigins),
		RateLimit: httpserver.RateLimitConfig{
			PerMinute: cfg.Bridge.RatePerMinute,
			Burst:     cfg.Bridge.RateBurst,

			TrustProxyHeaders: cfg.Bridge.TrustProxyHeaders,
		},
	})

	return &App{
		cfg:         cfg,
		log:         logger,
		db:          db,
		monitor:     monitor,
		coordinator: coordinator,
		server:      server,
	}, nil
}

// newMonitor probes once so the coordinator starts with a real reachability
// value, then leaves periodic probing to Run.
func newMonitor(cfg config.NetworkConfig, logger *slog.Logger) *netmon.Monitor {
	var probes netmon.AllProbes
	if cfg.Interfaces {
		probes = append(probes, netmon.NewInterfaceProbe())
	}
	if cfg.ProbeAddr != "" {
		probes = append(probes, netmon.TCPProbe{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout})
	}
	if len(probes) == 0 {
		logger.Warn("no network probes configured, assuming reachable")
		return netmon.NewStatic(true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout)
	initial := probes.Check(ctx)
	cancel()
	logger.Info("initial network reachability", "reachable", initial)

	return netmon.New(probes, netmon.Config{
		Interval: cfg.ProbeInterval,
		Initial:  initial,
		Logger:   logger,
	})
}

func (a *App) Run(ctx context.Context) error {
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		stopMonitor()
		wg.Wait()
		a.coordinator.Close()
		if a.db != nil {
			_ = a.db.Close()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.monitor.Run(monitorCtx); err != nil {
			a.log.Error("network monitor stopped", "error", err)
		}
	}()

	startupDone := a.coordinator.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		<-startupDone
		return nil
	case err := <-errCh:
		<-startupDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
