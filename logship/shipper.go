// Package logship periodically copies the recorder's log file to durable
// storage.
package logship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whisper-darkly/sticky-blackbox/archive"
	"github.com/whisper-darkly/sticky-blackbox/buffer"
	"github.com/whisper-darkly/sticky-blackbox/logger"
)

const (
	defaultInterval = time.Hour
	defaultTimeout  = 5 * time.Minute
)

// Uploader moves a local file into durable storage under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Shipper uploads a snapshot of the log file on a fixed interval. Each
// snapshot gets its own timestamped key, so nothing is ever overwritten.
type Shipper struct {
	logFile     string
	snapshotDir string
	prefix      string
	uploader    Uploader
	interval    time.Duration
	timeout     time.Duration
	cron        *cron.Cron
	now         func() time.Time
	log         *logger.Logger
}

// Option customises the Shipper.
type Option func(*Shipper)

// WithInterval overrides the shipping interval.
func WithInterval(d time.Duration) Option {
	return func(s *Shipper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTimeout bounds a single upload.
func WithTimeout(d time.Duration) Option {
	return func(s *Shipper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNow overrides the clock used for snapshot names.
func WithNow(now func() time.Time) Option {
	return func(s *Shipper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Shipper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithLogger sets the logger for shipper diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(s *Shipper) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Shipper for logFile. Snapshots are staged in snapshotDir
// and uploaded under prefix.
func New(logFile, snapshotDir, prefix string, uploader Uploader, opts ...Option) *Shipper {
	s := &Shipper{
		logFile:     logFile,
		snapshotDir: snapshotDir,
		prefix:      prefix,
		uploader:    uploader,
		interval:    defaultInterval,
		timeout:     defaultTimeout,
		now:         time.Now,
		log:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start schedules ShipOnce every interval and launches the scheduler.
func (s *Shipper) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.ShipOnce(ctx); err != nil && !errors.Is(err, archive.ErrDisabled) {
			s.log.Warn("log ship failed, will retry next interval: %v", err)
		}
	}))
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once a running
// shipment has finished.
func (s *Shipper) Stop() context.Context {
	return s.cron.Stop()
}

// ShipOnce copies the log file to a timestamped snapshot and uploads it.
// The live log is never moved or truncated.
func (s *Shipper) ShipOnce(ctx context.Context) error {
	base := strings.TrimSuffix(filepath.Base(s.logFile), filepath.Ext(s.logFile))
	snapshot := buffer.ArtifactPath(s.snapshotDir, base, s.now(), ".log")

	n, err := copyFile(s.logFile, snapshot)
	if err != nil {
		_ = os.Remove(snapshot)
		return fmt.Errorf("snapshot %s: %w", s.logFile, err)
	}
	// The uploader removes the snapshot on success; the live log still
	// holds everything it contains, so it never needs to outlive a failure.
	defer os.Remove(snapshot)

	if err := s.uploader.Upload(ctx, snapshot, archive.Key(s.prefix, snapshot)); err != nil {
		return err
	}
	s.log.Event("LOG SHIP",
		logger.KV{Key: "file", Value: s.logFile},
		logger.KV{Key: "key", Value: archive.Key(s.prefix, snapshot)},
		logger.KV{Key: "bytes", Value: fmt.Sprintf("%d", n)})
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
