package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
	"github.com/nextlevelbuilder/inboxrelay/internal/crm"
	"github.com/nextlevelbuilder/inboxrelay/internal/dispatch"
	"github.com/nextlevelbuilder/inboxrelay/internal/httpapi"
	"github.com/nextlevelbuilder/inboxrelay/internal/ingest"
	"github.com/nextlevelbuilder/inboxrelay/internal/mailbox"
	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
	"github.com/nextlevelbuilder/inboxrelay/internal/processor"
	"github.com/nextlevelbuilder/inboxrelay/internal/schedule"
	"github.com/nextlevelbuilder/inboxrelay/internal/store"
	"github.com/nextlevelbuilder/inboxrelay/internal/store/pg"
	"github.com/nextlevelbuilder/inboxrelay/internal/store/sqlite"
	"github.com/nextlevelbuilder/inboxrelay/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server (HTTP API + scheduled ingestion)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	svc, closeStores, err := buildService(cfg)
	if err != nil {
		slog.Error("service setup failed", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	// Hot reload of the sites/filter section while serving.
	if err := config.Watch(ctx, cfgPath, cfg, nil); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	sched := schedule.New(cfg, svc)
	go sched.Start(ctx)

	server := httpapi.NewServer(cfg, svc)
	if err := server.Start(ctx); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// buildService wires the ingestion service from config: processed store
// (Postgres in managed mode, SQLite standalone), CRM lookup, processor
// client, mailbox client, pipeline, dispatcher, poller.
func buildService(cfg *config.Config) (*ingest.Service, func(), error) {
	var (
		processed store.ProcessedStore
		leads     crm.Lookup = crm.Disabled{}
		closer    func()     = func() {}
	)

	if cfg.IsManagedMode() {
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		processed = pg.NewPGProcessedStore(db)
		leads = crm.NewPGLookup(db)
		closer = func() { db.Close() }
		slog.Info("store.mode", "mode", "managed")
	} else {
		st, err := sqlite.Open(config.ExpandHome(cfg.Database.SQLitePath))
		if err != nil {
			return nil, nil, err
		}
		processed = st
		closer = func() { st.Close() }
		slog.Info("store.mode", "mode", "standalone", "path", cfg.Database.SQLitePath)
	}
	resilient := store.NewResilientProcessedStore(processed)

	proc := processor.NewClient(cfg.Processor.BaseURL, cfg.Processor.Token)
	mail := mailbox.NewHTTPClient(cfg.Mailbox.BaseURL)
	pipe := pipeline.New(resilient, leads)
	disp := dispatch.NewDispatcher(proc)
	poller := dispatch.NewPoller(proc, cfg.Processor.Poll.ToPollConfig())

	return ingest.NewService(cfg, mail, pipe, disp, poller, resilient), closer, nil
}
