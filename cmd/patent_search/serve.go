package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lgomes/patentscope-api/internal/artifacts"
	"github.com/lgomes/patentscope-api/internal/config"
	"github.com/lgomes/patentscope-api/internal/patents"
	"github.com/lgomes/patentscope-api/internal/pipeline"
	"github.com/lgomes/patentscope-api/internal/server"
	"github.com/lgomes/patentscope-api/internal/source"
	"github.com/lgomes/patentscope-api/internal/tasks"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for submitting patent searches and polling their status.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT env var)")
	rootCmd.AddCommand(serveCmd)
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newSourceFactory(cfg config.SourceConfig, log zerolog.Logger) pipeline.SourceFactory {
	return func(useLogin bool) source.Client {
		return source.NewPatentScope(source.Options{
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MinDelay:   cfg.MinDelay,
			MaxRetries: cfg.MaxRetries,
			UseLogin:   useLogin,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Logger:     log,
		})
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	log := newLogger()

	var sink pipeline.ResultSink
	if cfg.ResultsDir != "" {
		sink = artifacts.NewWriter(cfg.ResultsDir, log)
	}

	runner := pipeline.NewRunner(pipeline.Options{
		NewSource: newSourceFactory(cfg.Source, log),
		Sink:      sink,
		Logger:    log,
	})

	var registry *tasks.Registry
	registry = tasks.New(tasks.Options{
		MaxConcurrent: int64(cfg.MaxConcurrentTasks),
		Logger:        log,
		Run: func(ctx context.Context, taskID string, spec patents.SearchSpec) {
			runner.Run(ctx, registry, taskID, spec)
		},
	})

	srv := server.New(server.Config{Port: cfg.Port}, registry, log)
	return srv.Start()
}
