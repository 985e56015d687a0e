// Package main provides the Object Finder API server binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/cache"
	"github.com/objectfinder/object-finder/internal/config"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/search"
	"github.com/objectfinder/object-finder/internal/server"
	"github.com/objectfinder/object-finder/internal/video"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "object-finder-server",
		Short: "Object Finder API server",
		Long: `Object Finder answers "where did I leave my keys?" by searching
uploaded home recordings for the objects you teach it.

Without a video service API key the server runs in mock mode and
returns canned locations, which is enough to try the full flow.

Examples:
  object-finder-server                          # Start with defaults
  object-finder-server --port 9000              # Custom port
  object-finder-server -c config.yaml           # Load a YAML config
  object-finder-server --env-file .env.local    # Read another env file`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().StringSlice("env-file", nil, "dotenv files to load (default .env)")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("port", 8000, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().String("store", "", "object store type: memory, sqlite or postgres (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("object-finder-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if storeType, _ := cmd.Flags().GetString("store"); storeType != "" {
		appCfg.Store.Type = storeType
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}

	log, logCloser, err := logger.NewWithFile(appCfg.Log.Level, appCfg.Log.Format, appCfg.Log.File)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	log.Info("Starting Object Finder server",
		"version", version,
		"addr", appCfg.Address(),
		"store", appCfg.Store.Type,
		"mock_mode", appCfg.MockMode(),
	)

	store, err := objects.NewStore(appCfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Metrics history is optional; without Redis only the live snapshot exists.
	instOpts := []metrics.Option{metrics.WithLogger(log.WithComponent("metrics"))}
	var history *metrics.RedisHistory
	if appCfg.Metrics.History == "redis" {
		history, err = metrics.NewRedisHistory(appCfg.Metrics.RedisURL)
		if err != nil {
			log.Warn("Metrics history disabled", "error", err)
		} else {
			defer func() { _ = history.Close() }()
			instOpts = append(instOpts, metrics.WithHistory(history))
			log.Info("Metrics history enabled", "backend", "redis")
		}
	}
	inst := metrics.NewInstrumentor(instOpts...)

	searchCache := cache.New[string, []video.Candidate](appCfg.Cache.Size, appCfg.Cache.TTL)
	vc := video.New(video.Config{
		APIKey:          appCfg.Video.APIKey,
		BaseURL:         appCfg.Video.BaseURL,
		Timeout:         appCfg.Video.Timeout,
		BreakerFailures: appCfg.Video.BreakerFailures,
		BreakerCooldown: appCfg.Video.BreakerCooldown,
	},
		video.WithCache(searchCache),
		video.WithInstrumentor(inst),
		video.WithLogger(log),
	)
	log.Info("Video client ready", "mode", vc.Mode())

	innerBus, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := bus.NewInstrumentedBus(innerBus, inst)
	defer func() { _ = eventBus.Close() }()

	var eventLog *bus.EventLogger
	if lb, ok := innerBus.(*bus.LoggedBus); ok {
		eventLog = lb.EventLogger()
		log.Info("Event logging enabled",
			"path", eventLog.Path(),
			"retention", eventLog.Retention(),
		)
	}

	orch := search.NewOrchestrator(store, vc,
		search.WithBus(eventBus),
		search.WithLogger(log),
		search.WithSearchLimit(appCfg.Video.SearchLimit),
	)

	deps := server.Deps{
		Store:        store,
		Video:        vc,
		Orchestrator: orch,
		Metrics:      inst,
		Bus:          eventBus,
		EventLog:     eventLog,
	}
	if history != nil {
		deps.History = history
	}

	srv, err := server.New(server.ConfigFrom(appCfg, version), deps, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")
		return srv.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
