// Package main is the entry point for the drumstem2midi API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/james-see/drumstem2midi/pkg/api"
	"github.com/james-see/drumstem2midi/pkg/config"
	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/logging"
	"github.com/james-see/drumstem2midi/pkg/metrics"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

func main() {
	port := flag.Int("port", 0, "Server port (overrides config)")
	configFile := flag.String("config", "", "Config file")
	flag.Parse()

	if err := run(*configFile, *port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, port int) error {
	settings, err := config.Load(config.New(), configFile)
	if err != nil {
		return err
	}
	if port > 0 {
		settings.Server.Port = port
	}

	logger, closeLog, err := logging.New(os.Stderr, logging.Options{
		Level:     settings.Log.Level,
		Format:    settings.Log.Format,
		File:      settings.Log.File,
		MaxSizeMB: settings.Log.MaxSizeMB,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return err
	}
	pipe, err := pipeline.NewFromSettings(settings, logger, m)
	if err != nil {
		return err
	}

	runner := jobs.NewRunner(pipe, jobs.Options{
		Workers:   settings.Jobs.Workers,
		QueueSize: settings.Jobs.QueueSize,
		StatusTTL: settings.Jobs.StatusTTL,
		Logger:    logger,
	})
	defer runner.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting drumstem2midi API server on port %d...\n", settings.Server.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", settings.Server.Port)

	srv := api.NewServer(api.Options{
		Jobs:       runner,
		UploadDir:  settings.Server.UploadDir,
		RunOptions: pipeline.RunOptionsFromSettings(settings),
		Gatherer:   registry,
		Logger:     logger,
	})
	return srv.ListenAndServe(ctx, settings.Server.Port)
}
