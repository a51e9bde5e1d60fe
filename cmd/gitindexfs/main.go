// Package main provides the gitindexfs command, which mounts the index of a
// git repository as a read-only filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/gitindexfs/gitindexfs/internal/config"
	"github.com/gitindexfs/gitindexfs/internal/fs"
	"github.com/gitindexfs/gitindexfs/internal/gitindex"
	"github.com/gitindexfs/gitindexfs/internal/logging"
	"github.com/gitindexfs/gitindexfs/internal/metrics"
	"github.com/gitindexfs/gitindexfs/pkg/types"
)

func main() {
	flags := flag.NewFlagSet("gitindexfs", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gitindexfs [flags] MOUNTPOINT\n\n")
		fmt.Fprintf(os.Stderr, "Mount the index of a git repository at MOUNTPOINT.\n\n")
		flags.PrintDefaults()
	}

	root := flags.StringP("root", "r", ".", "Path to the git repository that is to be mounted at MOUNTPOINT")
	debug := flags.BoolP("debug", "d", false, "Enable debug output")
	fuseDebug := flags.BoolP("fuse-debug", "D", false, "When debug is enabled, also log FUSE messages")
	configPath := flags.StringP("config", "c", "", "Path to configuration file (YAML)")
	metricsAddr := flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply command-line overrides
	if flags.NArg() > 0 {
		cfg.Mount.MountPoint = flags.Arg(0)
	}
	if flags.Changed("root") {
		cfg.Repository.Root = *root
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *fuseDebug {
		cfg.Logging.FuseDebug = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()

	if cfg.Mount.MountPoint == "" || flags.NArg() > 1 {
		flags.Usage()
		os.Exit(2)
	}
	if err := requireDir(cfg.Mount.MountPoint); err != nil {
		logging.Fatal("Invalid mount point", logging.Err(err))
	}
	if err := requireDir(cfg.Repository.Root); err != nil {
		logging.Fatal("Invalid repository root", logging.Err(err))
	}

	logging.Infof("mounting index of %s onto %s", cfg.Repository.Root, cfg.Mount.MountPoint)

	repo, err := gitindex.Open(cfg.Repository.Root)
	if err != nil {
		if errors.Is(err, types.ErrNotRepository) {
			logging.Errorf("Error: %s is not a git repository", cfg.Repository.Root)
			logging.Sync()
			os.Exit(1)
		}
		logging.Fatal("Failed to open repository", logging.Err(err))
	}

	entries, err := repo.Entries()
	if err != nil {
		logging.Fatal("Failed to read index", logging.Err(err))
	}

	rootAttr, err := gitindex.RootAttr(cfg.Repository.Root)
	if err != nil {
		logging.Fatal("Failed to stat repository root", logging.Err(err))
	}

	ifs, err := fs.NewIndexFS(&fs.IndexFSConfig{
		Entries:      entries,
		Store:        repo,
		RootAttr:     rootAttr,
		MountPoint:   cfg.Mount.MountPoint,
		FsName:       cfg.Mount.FsName,
		AllowOther:   cfg.Mount.AllowOther,
		Debug:        cfg.Logging.FuseDebug && logging.Enabled(zapcore.DebugLevel),
		EntryTimeout: cfg.Mount.GetEntryTimeout(),
		AttrTimeout:  cfg.Mount.GetAttrTimeout(),
	})
	if err != nil {
		logging.Fatal("Failed to build filesystem", logging.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = serveMetrics(cfg.Metrics.Addr)
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logging.Info("Unmounting...", logging.String("signal", sig.String()))
		cancel()
	}()

	err = ifs.Mount(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal("Mount failed", logging.Err(err))
	}
}

// requireDir checks that path exists and is a directory.
func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", filepath.Clean(path))
	}
	return nil
}

// serveMetrics starts the Prometheus endpoint in the background.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("Metrics listening", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server failed", logging.Err(err))
		}
	}()
	return srv
}
