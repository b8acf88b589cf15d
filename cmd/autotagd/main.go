package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/coordinator"
	"github.com/tagtools/autotagd/internal/ctags"
	"github.com/tagtools/autotagd/internal/daemon"
	"github.com/tagtools/autotagd/internal/journal"
	"github.com/tagtools/autotagd/internal/logger"
	"github.com/tagtools/autotagd/internal/watcher"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	socketPath := flag.String("socket", "", "override socket path")
	logLevel := flag.String("log-level", "", "override log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autotagd: %v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger.Init(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: "text",
		Output: logger.FileOutput(cfg.LogFile),
	})

	if err := run(cfg); err != nil {
		logger.Error("daemon failed", "error", err)
		fmt.Fprintf(os.Stderr, "autotagd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.EnsureStateDir(); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	pidFile := daemon.NewPIDFile(cfg.PIDPath)
	if pidFile.IsProcessAlive() {
		logger.Info("daemon already running")
		return nil
	}
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer pidFile.Remove()

	jr, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jr.Close()

	coord := coordinator.New(cfg, ctags.New(), jr)
	srv := daemon.NewServer(cfg, coord, jr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var w *watcher.Watcher
	if cfg.Watch.Enabled {
		w, err = watcher.New(cfg.Watch, srv)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received", "signal", sig.String())
		srv.Shutdown()
	case <-srv.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if w != nil {
		w.Stop()
	}
	// Drain in-flight workers before closing the journal; cancelling the
	// coordinator also kills any wedged indexer subprocess.
	coord.Close()
	os.Remove(cfg.SocketPath)
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.autotagd/config.yaml"
}
