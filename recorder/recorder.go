package recorder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/whisper-darkly/sticky-blackbox/archive"
	"github.com/whisper-darkly/sticky-blackbox/buffer"
	"github.com/whisper-darkly/sticky-blackbox/logger"
	"github.com/whisper-darkly/sticky-blackbox/stream"
	"github.com/whisper-darkly/sticky-blackbox/units"
)

// State is the recorder's view of the source.
type State int

const (
	// Recording means the last probe succeeded and segments are being captured.
	Recording State = iota
	// StreamDown means the source is unreachable; the buffer has been archived.
	StreamDown
)

func (s State) String() string {
	switch s {
	case Recording:
		return "RECORDING"
	case StreamDown:
		return "STREAM_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Prober checks whether the source is reachable.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Capturer records one segment of d from url into dest.
type Capturer interface {
	Capture(ctx context.Context, url, dest string, d time.Duration) error
}

// Merger joins segment files, in order, into out.
type Merger interface {
	Merge(ctx context.Context, segments []string, out string) error
}

// Uploader moves a local file into durable storage under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Config holds the recorder's collaborators and timings.
type Config struct {
	Locator  stream.Locator
	Prober   Prober
	Capturer Capturer
	Merger   Merger
	Uploader Uploader // nil = uploads disabled

	Buffer    *buffer.Ring
	BufferDir string // where segments are captured
	CrashDir  string // where crash artifacts are merged

	CrashPrefix string // remote key prefix for crash artifacts

	SegmentDuration time.Duration // length of one captured segment
	CheckInterval   time.Duration // re-probe interval while the stream is down
	CapturePause    time.Duration // pause between capture iterations
	ShutdownTimeout time.Duration // bound on the final archive at shutdown

	Now func() time.Time
	Log *logger.Logger
}

// Recorder is the stream-health state machine: it captures segments into
// the ring while the source is up and turns the ring into a crash artifact
// the moment the source goes away.
type Recorder struct {
	cfg Config
	log *logger.Logger
	buf *buffer.Ring

	state     State
	downSince time.Time

	// consecutive capture failures while the probe keeps succeeding
	captureFailures int
}

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

// New creates a Recorder in the Recording state.
func New(cfg Config) *Recorder {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 20 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.CapturePause <= 0 {
		cfg.CapturePause = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Minute
	}
	if cfg.Buffer == nil {
		cfg.Buffer = buffer.New(5)
	}
	if cfg.Uploader == nil {
		cfg.Uploader = archive.NewUploader(nil, cfg.Log)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}

	return &Recorder{
		cfg:   cfg,
		log:   cfg.Log,
		buf:   cfg.Buffer,
		state: Recording,
	}
}

// State returns the current recording state.
func (r *Recorder) State() State { return r.state }

// Run loops until ctx is cancelled, then archives whatever is buffered and
// returns the process exit code.
func (r *Recorder) Run(ctx context.Context) int {
	r.log.Event("RECORDER START",
		kv("buffer", fmt.Sprintf("%d", r.buf.Cap())),
		kv("segment", units.FormatDuration(r.cfg.SegmentDuration)),
		kv("check_interval", units.FormatDuration(r.cfg.CheckInterval)))

	for ctx.Err() == nil {
		pause := r.Step(ctx)
		if pause <= 0 {
			continue
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
		}
	}

	if err := r.Shutdown(); err != nil {
		r.log.Error("shutdown cleanup: %v", err)
	}
	return 0
}

// Step runs one iteration of the state machine and returns how long to
// wait before the next one.
func (r *Recorder) Step(ctx context.Context) time.Duration {
	url, err := r.probe(ctx)
	if ctx.Err() != nil {
		// A probe cut short by shutdown says nothing about the source.
		return 0
	}

	switch r.state {
	case Recording:
		if err != nil {
			r.streamLost(ctx, err)
			return r.cfg.CheckInterval
		}
	case StreamDown:
		if err != nil {
			r.log.Debug("stream still down: %v", err)
			return r.cfg.CheckInterval
		}
		r.state = Recording
		r.log.Event("STREAM UP",
			kv("source", url),
			kv("downtime", units.FormatDuration(r.cfg.Now().Sub(r.downSince))))
	}

	return r.capture(ctx, url)
}

// probe locates the source and checks that it is readable.
func (r *Recorder) probe(ctx context.Context) (string, error) {
	url, err := r.cfg.Locator.Locate(ctx)
	if err != nil {
		return "", fmt.Errorf("locate source: %w", err)
	}
	if err := r.cfg.Prober.Probe(ctx, url); err != nil {
		return url, fmt.Errorf("probe %s: %w", url, err)
	}
	return url, nil
}

// capture records one segment and hands it to the ring.
func (r *Recorder) capture(ctx context.Context, url string) time.Duration {
	start := r.cfg.Now()
	path := buffer.SegmentPath(r.cfg.BufferDir, start)

	if err := r.cfg.Capturer.Capture(ctx, url, path, r.cfg.SegmentDuration); err != nil {
		_ = os.Remove(path)
		if ctx.Err() != nil {
			r.log.Info("capture of %s cancelled, partial segment discarded", path)
			return 0
		}
		r.captureFailures++
		r.log.Warn("capture failed (%d in a row), skipping segment: %v", r.captureFailures, err)
		return r.cfg.CapturePause
	}
	r.captureFailures = 0

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	evicted, err := r.buf.Append(buffer.Segment{Path: path, Created: start})
	r.log.Event("SEGMENT FINISH",
		kv("file", path),
		kv("size", units.FormatBytes(size)),
		kv("duration", units.FormatDuration(r.cfg.Now().Sub(start))),
		kv("buffered", fmt.Sprintf("%d/%d", r.buf.Len(), r.buf.Cap())))
	if evicted != nil {
		r.log.Event("SEGMENT EVICT", kv("file", evicted.Path))
	}
	if err != nil {
		r.log.Warn("%v", err)
	}
	return r.cfg.CapturePause
}

// streamLost runs once per RECORDING → STREAM_DOWN edge.
func (r *Recorder) streamLost(ctx context.Context, cause error) {
	r.state = StreamDown
	r.downSince = r.cfg.Now()
	r.captureFailures = 0

	r.log.Event("STREAM DOWN",
		kv("buffered", fmt.Sprintf("%d", r.buf.Len())),
		kv("reason", cause.Error()))

	// A shutdown arriving now must wait for the artifact, not abort it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := r.archiveBuffer(ctx, "stream_lost"); err != nil {
		r.log.Error("crash archive: %v", err)
	}
}
