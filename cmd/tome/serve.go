package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomelabs/tome/internal/config"
	"github.com/tomelabs/tome/internal/dispatch"
	"github.com/tomelabs/tome/internal/engine"
	"github.com/tomelabs/tome/internal/home"
	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/pipeline"
	"github.com/tomelabs/tome/internal/schedule"
	"github.com/tomelabs/tome/internal/server"
	"github.com/tomelabs/tome/internal/store"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tome server",
	Long: `Start the Tome HTTP server.

This runs the analysis pipeline, the delivery loop, and the HTTP API in
one process. Interrupted analysis jobs are resumed on startup.

Examples:
  tome serve                     # Start on default port 8080
  tome serve --port 3000         # Start on custom port
  tome serve --host 0.0.0.0      # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()

		dbPath := cfg.Database.Path
		if dbPath == "" {
			dbPath = h.DatabasePath()
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.ResolvedAPIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		gate := llm.NewGate(client, llm.GateConfig{
			MaxConcurrent:     int64(cfg.LLM.MaxConcurrent),
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Logger:            logger,
		})

		eng := engine.New(engine.Config{
			Pipeline: pipeline.Config{
				Workers:           cfg.Pipeline.Workers,
				MaxAttempts:       cfg.Pipeline.MaxAttempts,
				RetryBaseDelay:    cfg.Pipeline.RetryBaseDelay,
				MaxTokensPerChunk: cfg.Chunker.MaxTokensPerChunk,
			},
			Schedule: schedule.Config{
				AnchorToDayBoundary: cfg.Schedule.AnchorToDayBoundary,
				LowQuality:          cfg.Schedule.LowQuality,
				HighQuality:         cfg.Schedule.HighQuality,
				ShrinkFactor:        cfg.Schedule.ShrinkFactor,
				GrowFactor:          cfg.Schedule.GrowFactor,
			},
			Dispatch: dispatch.Config{
				Period:    cfg.Dispatcher.Period,
				BatchSize: cfg.Dispatcher.BatchSize,
				MaxClaims: cfg.Dispatcher.MaxClaims,
			},
			Logger: logger,
		}, st, gate)

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == "" {
			port = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host:   host,
			Port:   port,
			Engine: eng,
			Store:  st,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
