package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/quorum/internal/agents"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/dispatch"
	"github.com/mtzanidakis/quorum/internal/export"
	"github.com/mtzanidakis/quorum/internal/fetch"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/logging"
	"github.com/mtzanidakis/quorum/internal/model"
	"github.com/mtzanidakis/quorum/internal/monitor"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/orchestrator"
	"github.com/mtzanidakis/quorum/internal/registry"
	"github.com/mtzanidakis/quorum/internal/scheduler"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/telegram"
	"github.com/mtzanidakis/quorum/internal/vault"
	"github.com/mtzanidakis/quorum/internal/web"
)

const fetchTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator service",
	Long: `Start the orchestrator with the embedded NATS bus, the resource
monitor, the task scheduler, the HTTP API and, when a token is configured,
the Telegram bot. Configuration is read from $QUORUM_CONFIG
(default config/quorum.yaml) and the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.New(cfg.Log, os.Stderr)

	slog.Info("starting quorum", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()
	slog.Info("nats started", "url", bus.ClientURL())

	// Resource monitor
	mon := monitor.New(nil, monitor.Options{
		CPUThreshold:    cfg.Resources.CPUThreshold,
		MemoryThreshold: cfg.Resources.MemoryThreshold,
		SampleInterval:  cfg.Resources.SampleInterval,
		DiskPath:        cfg.Resources.DiskPath,
	})
	go mon.Start(ctx)

	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		if v, err = vault.New(cfg.Vault.Passphrase); err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
	} else {
		slog.Warn("vault passphrase not set, notes are stored in plaintext")
	}

	gen := model.New(cfg.Model)
	if cfg.Model.APIKey == "" {
		slog.Warn("model api key not set, agents answer offline")
	}

	// Agents
	led := ledger.New(cfg.Ledger.Window)
	reg := registry.New(db)
	err = agents.RegisterAll(reg, agents.Deps{
		Config:    cfg,
		Store:     db,
		Model:     gen,
		Vault:     v,
		Fetcher:   fetch.New(fetchTimeout),
		Exporter:  export.New(cfg.Export.Dir),
		Ledger:    led,
		Resources: mon,
	})
	if err != nil {
		return fmt.Errorf("register agents: %w", err)
	}
	if err := reg.Sync(); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}
	slog.Info("agents registered", "count", reg.Len())

	// Orchestrator
	orch := orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Registry: reg,
		Ledger:   led,
		Throttle: mon,
		Store:    db,
		Client:   client,
		Metrics:  dispatch.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err := orch.Listen(ctx); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer orch.Close()

	// Scheduler
	sched := scheduler.New(db, orch, client, cfg.Scheduler)
	go sched.Start(ctx)

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, orch)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// HTTP API
	if cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, web.Deps{
			Submitter: orch,
			Registry:  reg,
			Ledger:    led,
			Resources: mon,
			Store:     db,
			Client:    client,
			Version:   version,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}
