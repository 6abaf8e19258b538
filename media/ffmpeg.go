// Package media wraps the ffmpeg invocations used to probe the source,
// capture fixed-length segments and stitch segments into one artifact.
package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/whisper-darkly/sticky-blackbox/logger"
	"github.com/whisper-darkly/sticky-blackbox/units"
)

const (
	defaultProbeTimeout = 15 * time.Second
	defaultCaptureGrace = 30 * time.Second
	defaultMergeTimeout = 5 * time.Minute

	// killDelay is how long ffmpeg gets after SIGTERM before it is killed.
	killDelay = 2 * time.Second
)

// ErrTimeout is wrapped into the error of any ffmpeg run that hit its deadline.
var ErrTimeout = errors.New("ffmpeg timed out")

// Config holds the ffmpeg settings shared by every invocation.
type Config struct {
	Path          string        // ffmpeg binary (default "ffmpeg")
	RTSPTransport string        // -rtsp_transport value for rtsp:// sources (empty = ffmpeg default)
	ProbeTimeout  time.Duration // hard ceiling for one probe
	CaptureGrace  time.Duration // added to the segment duration to bound a capture
	MergeTimeout  time.Duration // hard ceiling for one concat
	ListDir       string        // where the concat list is written (default: output dir)

	Log *logger.Logger
}

// FFmpeg runs the media tool as an opaque subprocess. Success is decided by
// the exit code alone. It holds no mutable state and is safe to share.
type FFmpeg struct {
	cfg Config
	log *logger.Logger
}

// New creates an FFmpeg runner, filling unset timeouts with defaults.
func New(cfg Config) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.CaptureGrace <= 0 {
		cfg.CaptureGrace = defaultCaptureGrace
	}
	if cfg.MergeTimeout <= 0 {
		cfg.MergeTimeout = defaultMergeTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	return &FFmpeg{cfg: cfg, log: cfg.Log}
}

// run executes ffmpeg with args under a hard timeout. The child gets its own
// process group so cancellation reaches anything it spawned.
func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f.log.Debug("%s %s", f.cfg.Path, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, f.cfg.Path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = f.log.Writer(logger.LevelDebug)
	// SIGTERM the whole group first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = killDelay

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, units.FormatDuration(timeout), err)
	}
	return err
}

// inputArgs builds the arguments that select the source.
func (f *FFmpeg) inputArgs(url string) []string {
	var args []string
	if f.cfg.RTSPTransport != "" && strings.HasPrefix(strings.ToLower(url), "rtsp") {
		args = append(args, "-rtsp_transport", f.cfg.RTSPTransport)
	}
	return append(args, "-i", url)
}
