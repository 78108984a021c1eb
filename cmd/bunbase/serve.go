package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/realtime"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/server"
	"github.com/bunbase/bunbase/internal/storage"
	"github.com/bunbase/bunbase/internal/store"
)

const sweepInterval = time.Hour

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BunBase server",
	Long: `Start the BunBase HTTP server.

Opens the embedded database, bootstraps system tables and the initial
admin account, wires every engine behind the REST surface, and begins
listening (spec §6.6).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind to (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := config.ValidateJWTSecret(cfg.Auth.JWT.Secret); err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}

	srv, cleanup, err := buildServer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
		cancel()
	}()

	go srv.SweepLoop(ctx, sweepInterval)

	errCh := srv.Start(ctx)
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	return nil
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := config.LoadOptions{}
	if cfgFile != "" {
		opts.ConfigFile = cfgFile
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	return cfg, nil
}

// buildServer wires every engine the HTTP surface dispatches to, in the
// dependency order server.New documents: schema before rules/hooks before
// record/auth before storage/realtime.
func buildServer(cfg *config.Config) (*server.Server, func(), error) {
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	ctx := context.Background()
	if err := schema.Bootstrap(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("bootstrapping schema metadata: %w", err)
	}

	schemaMgr := schema.NewManager(db)
	rulesEngine := rules.NewEngine()
	hooksRegistry := hooks.NewRegistry()
	recordEngine := record.NewEngine(db, schemaMgr, rulesEngine, hooksRegistry)
	authService := auth.NewService(db, schemaMgr, hooksRegistry, cfg.Auth)

	backend := storage.NewFilesystemBackend(cfg.Storage.Root)
	fileMeta := storage.NewMetadataStore(db)
	fileService := storage.NewService(backend, fileMeta)

	registerFileCleanupHook(hooksRegistry, fileService)

	realtimeRegistry := realtime.NewRegistry(schemaMgr, rulesEngine, cfg.Realtime.InactivityTimeout)
	registerRealtimeBroadcastHooks(hooksRegistry, realtimeRegistry)

	srv := server.New(cfg, db, schemaMgr, rulesEngine, hooksRegistry, recordEngine, authService, fileService, backend, realtimeRegistry)

	admin, generatedPassword, err := authService.BootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("bootstrapping admin: %w", err)
	}
	if admin != nil {
		log.Info().Str("email", admin.Email).Msg("bootstrap admin created")
		if generatedPassword != "" {
			log.Warn().Str("password", generatedPassword).Msg("generated admin password (shown once, store it now)")
		}
	}

	cleanup := func() {
		db.Close()
	}
	return srv, cleanup, nil
}

// registerFileCleanupHook registers the core's own afterDelete handler that
// removes a deleted record's entire file directory and tracked metadata
// (spec §3.5, §4.8). It runs for every collection since file fields are a
// per-collection, per-field concern the core can't enumerate up front.
func registerFileCleanupHook(registry *hooks.Registry, files *storage.Service) {
	registry.On(hooks.AfterDelete, "", func(ctx context.Context, hctx *hooks.Context, next hooks.Next) error {
		if err := files.DeleteRecord(ctx, nil, hctx.Collection, hctx.ID); err != nil {
			log.Error().Err(err).
				Str("collection", hctx.Collection).
				Str("id", hctx.ID).
				Msg("cleaning up record files after delete")
		}
		return next()
	})
}

// registerRealtimeBroadcastHooks registers the core's own global
// afterCreate/afterUpdate/afterDelete handlers that call into the realtime
// registry with the committed record (spec §4.9: "The core registers
// global afterCreate, afterUpdate, afterDelete hooks that call into the
// registry"). Because these are ordinary global hooks, every mutation that
// fires the after-hooks broadcasts — not just the ones reached via the HTTP
// record handlers — including, e.g., the afterCreate auth.Service.Register
// fires itself after inserting a new auth-collection user.
func registerRealtimeBroadcastHooks(registry *hooks.Registry, realtm *realtime.Registry) {
	registry.On(hooks.AfterCreate, "", func(ctx context.Context, hctx *hooks.Context, next hooks.Next) error {
		id, _ := hctx.Record["id"].(string)
		realtm.Broadcast(ctx, realtime.Event{
			Collection: hctx.Collection,
			RecordID:   id,
			Action:     realtime.ActionCreate,
			Record:     hctx.Record,
		})
		return next()
	})
	registry.On(hooks.AfterUpdate, "", func(ctx context.Context, hctx *hooks.Context, next hooks.Next) error {
		id, _ := hctx.Record["id"].(string)
		realtm.Broadcast(ctx, realtime.Event{
			Collection: hctx.Collection,
			RecordID:   id,
			Action:     realtime.ActionUpdate,
			Record:     hctx.Record,
		})
		return next()
	})
	registry.On(hooks.AfterDelete, "", func(ctx context.Context, hctx *hooks.Context, next hooks.Next) error {
		realtm.Broadcast(ctx, realtime.Event{
			Collection: hctx.Collection,
			RecordID:   hctx.ID,
			Action:     realtime.ActionDelete,
			Record:     map[string]any{"id": hctx.ID},
		})
		return next()
	})
}
