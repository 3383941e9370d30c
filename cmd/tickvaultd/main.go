// tickvaultd records public market-data streams to disk.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/tickvault/internal/config"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/manifest"
	"github.com/xtxerr/tickvault/internal/recorder"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	manifestPath := flag.String("manifest", "", "subscription manifest path (overrides config)")
	dataDir := flag.String("data-dir", "", "output root directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	log := logging.Component("main")
	log.Info("tickvaultd starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Load wraps the read error, so match through the chain.
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			fatal(log, "load config", err)
		}
	}

	// CLI overrides
	if *manifestPath != "" {
		cfg.ManifestFile = *manifestPath
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	m, err := manifest.Load(cfg.ManifestFile)
	if err != nil {
		fatal(log, "load manifest", err)
	}

	svc, err := recorder.New(cfg, m)
	if err != nil {
		fatal(log, "create recorder", err)
	}
	if err := svc.Start(); err != nil {
		fatal(log, "start recorder", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("signal received, shutting down", "signal", sig.String())

	svc.Stop()
	log.Info("tickvaultd stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
