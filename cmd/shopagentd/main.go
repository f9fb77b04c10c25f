package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shopagent/internal/action"
	"shopagent/internal/api"
	"shopagent/internal/config"
	"shopagent/internal/locator"
	"shopagent/internal/logging"
	shopagentmcp "shopagent/internal/mcp"
	"shopagent/internal/notify"
	"shopagent/internal/page"
	"shopagent/internal/pool"
	"shopagent/internal/provider"
	"shopagent/internal/schedule"
	"shopagent/internal/store"
	"shopagent/internal/worker"
)

var _ pool.Session = (*page.Session)(nil)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout carries the MCP protocol when it is enabled.
	var out io.Writer = os.Stdout
	if cfg.Server.MCP {
		out = os.Stderr
	}
	logger := logging.NewWithWriter(out, cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("shopagentd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.Browser.EvidenceDir, 0o755); err != nil {
		return fmt.Errorf("create evidence dir: %w", err)
	}

	tables, err := locator.Load(cfg.Files.Locators)
	if err != nil {
		return fmt.Errorf("load locators: %w", err)
	}
	registry := action.Builtins(tables, action.DefaultTiming())
	executor := action.NewExecutor(st, cfg.Browser.CaptureEvidence, logger)

	prov, err := provider.NewClient(provider.Config{
		BaseURL:  cfg.Provider.URL,
		Company:  cfg.Provider.Company,
		Username: cfg.Provider.Username,
		Password: cfg.Provider.Password,
		Timeout:  cfg.Provider.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}
	if err := prov.StartClient(ctx); err != nil {
		logger.Warn("provider not reachable at startup", "url", cfg.Provider.URL, "err", err)
	} else if err := prov.ApplyAuth(ctx); err != nil {
		logger.Warn("provider auth refresh failed", "err", err)
	}

	tenants, err := loadTenants(ctx, cfg, prov, logger)
	if err != nil {
		return err
	}
	if running, err := prov.RunningSessions(ctx); err != nil {
		logger.Debug("query running provider sessions", "err", err)
	} else {
		logger.Info("provider sessions already running", "count", len(running))
	}
	dial := func(endpoint string) pool.Session {
		return page.New(endpoint, page.Options{
			EvidenceDir: cfg.Browser.EvidenceDir,
			ActionDelay: cfg.Browser.ActionDelay,
		}, logger.With("endpoint", endpoint))
	}
	sessions := pool.New(prov, dial, tenants, cfg.Provider.Headless, logger)
	logger.Info("session pool ready", "tenants", sessions.Tenants())

	w := worker.New(worker.Config{
		WorkerID:        cfg.Worker.ID,
		PollInterval:    cfg.Worker.PollInterval,
		TaskDelay:       cfg.Worker.TaskDelay,
		ErrorCooldown:   cfg.Worker.ErrorCooldown,
		TeardownTimeout: cfg.ShutdownGrace,
	}, st, sessions, registry, executor, buildNotifier(cfg, logger), logger)

	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}
	sched, err := buildScheduler(cfg, st, registry, logger, location)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })

	if sched != nil {
		sched.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			select {
			case <-sched.Stop().Done():
			case <-time.After(cfg.ShutdownGrace):
				logger.Warn("scheduler stop timed out")
			}
			return nil
		})
	}

	if cfg.Server.Addr != "" {
		srv := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, st, registry, logger)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Server.MCP {
		var mcpSched shopagentmcp.Scheduler
		if sched != nil {
			mcpSched = sched
		}
		mcpServer := shopagentmcp.NewMCPServer(st, registry, mcpSched, logger)
		g.Go(func() error { return mcpServer.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// loadTenants reads the tenants file or, without one, maps every provider
// session by its name.
func loadTenants(ctx context.Context, cfg *config.Config, prov *provider.Client, logger *slog.Logger) (map[string]string, error) {
	if cfg.Files.Tenants != "" {
		tenants, err := config.LoadTenants(cfg.Files.Tenants)
		if err != nil {
			return nil, err
		}
		return tenants, nil
	}

	infos, err := prov.ListSessions(ctx)
	if err != nil {
		logger.Warn("list provider sessions failed, no tenants mapped", "err", err)
		return map[string]string{}, nil
	}
	tenants := make(map[string]string, len(infos))
	for _, info := range infos {
		if info.TenantKey == "" || info.ProvisioningID == "" {
			continue
		}
		if info.Expired {
			logger.Warn("provider session expired", "tenant_id", info.TenantKey, "provisioning_id", info.ProvisioningID)
		}
		tenants[info.TenantKey] = info.ProvisioningID
	}
	return tenants, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if len(notifiers) == 0 {
		return &notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func buildScheduler(cfg *config.Config, st *store.Store, registry *action.Registry, logger *slog.Logger, location *time.Location) (*schedule.Scheduler, error) {
	if cfg.Files.Schedules == "" {
		return nil, nil
	}
	entries, err := schedule.LoadFile(cfg.Files.Schedules)
	if err != nil {
		return nil, err
	}
	if err := schedule.Validate(entries, registry.Has); err != nil {
		return nil, err
	}
	return schedule.New(st, entries, logger, location)
}
