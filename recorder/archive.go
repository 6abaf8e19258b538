package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/whisper-darkly/sticky-blackbox/archive"
	"github.com/whisper-darkly/sticky-blackbox/buffer"
	"github.com/whisper-darkly/sticky-blackbox/media"
	"github.com/whisper-darkly/sticky-blackbox/units"
)

// archiveBuffer drains the ring, merges the drained segments into one crash
// artifact and uploads it. Stream loss and shutdown both go through here.
// An empty ring is a no-op.
func (r *Recorder) archiveBuffer(ctx context.Context, trigger string) error {
	segs := r.buf.DrainAll()
	if len(segs) == 0 {
		r.log.Debug("nothing buffered, no crash artifact (%s)", trigger)
		return nil
	}

	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.Path
	}

	out := buffer.ArtifactPath(r.cfg.CrashDir, "crash", r.cfg.Now(), ".mp4")
	if err := r.cfg.Merger.Merge(ctx, paths, out); err != nil {
		r.rescue(paths)
		return fmt.Errorf("merge %d segments, not uploading: %w", len(paths), err)
	}

	var size int64
	if fi, err := os.Stat(out); err == nil {
		size = fi.Size()
	}
	r.log.Event("CRASH ARCHIVE",
		kv("file", out),
		kv("segments", fmt.Sprintf("%d", len(paths))),
		kv("size", units.FormatBytes(size)),
		kv("trigger", trigger))

	key := archive.Key(r.cfg.CrashPrefix, out)
	if err := r.cfg.Uploader.Upload(ctx, out, key); err != nil {
		if errors.Is(err, archive.ErrDisabled) {
			r.log.Info("uploads disabled, crash artifact kept at %s", out)
		} else {
			r.log.Warn("crash artifact kept at %s for manual recovery", out)
		}
	}

	// The ring was drained above; clearing guarantees nothing appended
	// since can outlive this event.
	if err := r.buf.Clear(); err != nil {
		r.log.Warn("clear buffer: %v", err)
	}
	return nil
}

// rescue moves segments whose merge failed out of the buffer directory
// into their own folder under the crash directory, so they survive buffer
// cleanup. Anything that cannot be moved stays where it is.
func (r *Recorder) rescue(paths []string) {
	dir := buffer.ArtifactPath(r.cfg.CrashDir, "unmerged", r.cfg.Now(), "")
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.log.Error("cannot create %s, unmerged segments left in %s: %v", dir, r.cfg.BufferDir, err)
		return
	}

	var errs error
	moved := 0
	for _, p := range paths {
		dst := filepath.Join(dir, filepath.Base(p))
		if err := media.MoveFile(p, dst); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		moved++
	}
	r.log.Warn("kept %d unmerged segments in %s", moved, dir)
	if errs != nil {
		r.log.Error("rescue unmerged segments: %v", errs)
	}
}

// Shutdown archives whatever is buffered under a fresh deadline and then
// empties the buffer directory. It is safe to call with an empty ring.
func (r *Recorder) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()

	r.log.Event("SHUTDOWN",
		kv("state", r.state.String()),
		kv("buffered", fmt.Sprintf("%d", r.buf.Len())))

	var errs error
	errs = multierr.Append(errs, r.archiveBuffer(ctx, "shutdown"))

	removed, err := buffer.RemoveSegmentFiles(r.cfg.BufferDir)
	errs = multierr.Append(errs, err)
	if removed > 0 {
		r.log.Info("removed %d leftover segment files from %s", removed, r.cfg.BufferDir)
	}
	return errs
}

// UploadPending retries crash artifacts a previous run left in the crash
// directory because their upload failed or was disabled.
func (r *Recorder) UploadPending(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(r.cfg.CrashDir, "crash_*.mp4"))
	if err != nil || len(matches) == 0 {
		return
	}
	r.log.Info("found %d crash artifacts from a previous run", len(matches))
	for _, p := range matches {
		if ctx.Err() != nil {
			return
		}
		if err := r.cfg.Uploader.Upload(ctx, p, archive.Key(r.cfg.CrashPrefix, p)); err != nil {
			r.log.Warn("pending artifact %s kept: %v", p, err)
		}
	}
}
