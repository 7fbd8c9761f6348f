// Package wire provides dependency injection for the cellbatch
// application. It creates singleton services with lazy initialization.
package wire

import (
	"io"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/example/cellbatch/internal/adapters/engine"
	"github.com/example/cellbatch/internal/adapters/fetch"
	"github.com/example/cellbatch/internal/adapters/sqlite"
	"github.com/example/cellbatch/internal/app"
	"github.com/example/cellbatch/internal/config"
	"github.com/example/cellbatch/internal/logger"
	"github.com/example/cellbatch/internal/ports/secondary"
)

// Program is the executable name substituted into rendered job
// command lines.
const Program = "cellbatch"

var (
	prefs      *config.Preferences
	appLogger  *slog.Logger
	runService *app.RunService
	once       sync.Once
)

func openStore(path string) (secondary.MeasurementStore, error) {
	return sqlite.Open(path)
}

// initServices initializes shared dependencies.
// This is called once via sync.Once.
func initServices() {
	appLogger = logger.New(slog.LevelInfo)

	var err error
	prefs, err = config.Load()
	if err != nil {
		log.Fatalf("failed to load preferences: %v", err)
	}

	pipelineEngine := engine.NewLocalEngine(appLogger)
	runService = app.NewRunService(prefs, pipelineEngine, openStore, appLogger)
}

// Logger returns the shared application logger.
func Logger() *slog.Logger {
	once.Do(initServices)
	return appLogger
}

// Preferences returns the loaded application preferences.
func Preferences() *config.Preferences {
	once.Do(initServices)
	return prefs
}

// RunService returns the singleton RunService instance.
func RunService() *app.RunService {
	once.Do(initServices)
	return runService
}

// BatchService returns a new BatchService writing to stdout.
// Each call creates a new service (the service holds no state beyond
// its output sink).
func BatchService() *app.BatchService {
	return BatchServiceWithOutput(os.Stdout)
}

// BatchServiceWithOutput returns a new BatchService writing to the
// given output. This variant allows testing or alternate output
// destinations.
func BatchServiceWithOutput(out io.Writer) *app.BatchService {
	once.Do(initServices)
	return app.NewBatchService(Program, openStore, out, appLogger)
}

// Downloader returns a new Downloader writing into the configured
// temporary directory.
func Downloader() *fetch.Downloader {
	once.Do(initServices)
	return fetch.New(prefs.TempDir, appLogger)
}
