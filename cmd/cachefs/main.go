package main

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"cachefs/internal/config"
	"cachefs/internal/fs"
	"cachefs/internal/logging"
	"cachefs/internal/memfs"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

var (
	logger = logging.GetLogger()
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Level())

	logger.Info("Starting cachefs...")
	logger.Debug("Mount point: %s", cfg.Mount)
	logger.Debug("Source path: %s", cfg.Source)
	logger.Debug("Flush interval: %v", cfg.FlushInterval)

	backing := afero.NewBasePathFs(afero.NewOsFs(), cfg.Source)
	session := memfs.NewSession(backing)

	flusher := memfs.NewFlusher(session, cfg.FlushInterval)
	if err := flusher.Start(); err != nil {
		logger.Error("Failed to start flusher: %v", err)
		os.Exit(1)
	}

	cfs := fs.NewCacheFS(session)

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Mounting filesystem...")
	if err := cfs.Mount(cfg.Mount, fs.Options{AllowOther: cfg.AllowOther}); err != nil {
		logger.Error("Mount failed: %v", err)
		flusher.Stop()
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)

	logger.Debug("Starting FUSE server...")
	go func() {
		defer wg.Done()
		logger.Info("Serving filesystem...")
		if err := cfs.Serve(); err != nil {
			logger.Error("FUSE server error: %v", err)
		}
		logger.Debug("FUSE server stopped")
	}()

	logger.Info("Filesystem mounted and ready")

	// Wait for signal
	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := cfs.Unmount(cfg.Mount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	wg.Wait()

	logger.Info("Writing back dirty files...")
	flusher.Stop()
	logger.Info("Clean shutdown complete")
}
