package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/whisper-darkly/sticky-blackbox/archive"
	"github.com/whisper-darkly/sticky-blackbox/buffer"
	"github.com/whisper-darkly/sticky-blackbox/config"
	"github.com/whisper-darkly/sticky-blackbox/logger"
	"github.com/whisper-darkly/sticky-blackbox/logship"
	"github.com/whisper-darkly/sticky-blackbox/media"
	"github.com/whisper-darkly/sticky-blackbox/recorder"
	"github.com/whisper-darkly/sticky-blackbox/stream"
	"github.com/whisper-darkly/sticky-blackbox/units"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

// shipperStopTimeout bounds the wait for an in-flight log upload at exit.
const shipperStopTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(filepath.Base(os.Args[0]), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "\nKeeps a rolling buffer of a live stream and uploads it when the stream drops.\n")
		fmt.Fprintf(os.Stderr, "Durations: hh:mm:ss | 1h30m | plain number in the flag's unit.\n")
		return 0
	}
	if err != nil {
		logger.New(logger.LevelInfo).Error("config: %v", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Println("sticky-blackbox", version)
		return 0
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel))
	log.SetFormat(logger.ParseFormat(cfg.OutputFormat))
	log.SetTag("CAM-" + cfg.Cam)

	for _, dir := range []string{cfg.BufferDir, cfg.CrashDir, filepath.Dir(cfg.LogFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("create directory %s: %v", dir, err)
			return 1
		}
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Error("open log file: %v", err)
		return 1
	}
	log.SetFile(logFile)
	defer func() {
		log.SetFile(nil)
		logFile.Close()
	}()

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn("received %v, archiving buffer and shutting down...", sig)
		cancel()
	}()

	log.Info("camera %s started, source %s", cfg.Cam, cfg.Source)

	uploader := archive.NewUploader(openStore(ctx, cfg, log), log)

	ff := media.New(media.Config{
		Path:          cfg.FFmpegPath,
		RTSPTransport: cfg.RTSPTransport,
		ProbeTimeout:  cfg.ProbeTimeout,
		ListDir:       cfg.CrashDir,
		Log:           log,
	})

	rec := recorder.New(recorder.Config{
		Locator:         stream.New(cfg.Source, cfg.Resolution, cfg.UserAgent),
		Prober:          ff,
		Capturer:        ff,
		Merger:          ff,
		Uploader:        uploader,
		Buffer:          buffer.New(cfg.BufferSize),
		BufferDir:       cfg.BufferDir,
		CrashDir:        cfg.CrashDir,
		CrashPrefix:     cfg.CrashPrefix,
		SegmentDuration: cfg.SegmentDuration,
		CheckInterval:   cfg.CheckInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Log:             log,
	})

	if n, err := buffer.RemoveSegmentFiles(cfg.BufferDir); err != nil {
		log.Warn("clean buffer directory: %v", err)
	} else if n > 0 {
		log.Info("removed %d stale segment files from a previous run", n)
	}

	var shipper *logship.Shipper
	if uploader.Enabled() {
		rec.UploadPending(ctx)

		shipper = logship.New(cfg.LogFile, cfg.CrashDir, cfg.LogPrefix, uploader,
			logship.WithInterval(cfg.LogShipInterval),
			logship.WithLogger(log))
		shipper.Start()
		log.Info("shipping log every %s", units.FormatDuration(cfg.LogShipInterval))
	}

	exitCode := rec.Run(ctx)

	if shipper != nil {
		select {
		case <-shipper.Stop().Done():
		case <-time.After(shipperStopTimeout):
			log.Warn("log shipment still running after %s, exiting anyway", units.FormatDuration(shipperStopTimeout))
		}
	}

	log.Info("stopped")
	return exitCode
}

// openStore returns the configured object store, or nil when uploads must
// be disabled. Missing storage configuration is not an error.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) archive.Store {
	if !cfg.UploadsEnabled() {
		log.Info("no bucket configured, uploads disabled")
		return nil
	}
	store, err := archive.NewS3Store(ctx, archive.S3Config{
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		log.Warn("uploads disabled: %v", err)
		return nil
	}
	log.Info("uploading crash artifacts to %s", store.Location(cfg.CrashPrefix))
	return store
}
