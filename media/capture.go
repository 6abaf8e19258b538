package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/whisper-darkly/sticky-blackbox/units"
)

// ErrEmptySegment is returned when ffmpeg exited cleanly but wrote nothing.
var ErrEmptySegment = errors.New("capture produced an empty file")

// Capture stream-copies d of the source into dest. On any failure the
// partial file is removed so it can never be mistaken for a segment.
func (f *FFmpeg) Capture(ctx context.Context, url, dest string, d time.Duration) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "warning"}
	args = append(args, f.inputArgs(url)...)
	args = append(args, "-t", units.Seconds(d), "-c", "copy", dest)

	err := f.run(ctx, d+f.cfg.CaptureGrace, args)
	if err == nil {
		fi, statErr := os.Stat(dest)
		switch {
		case statErr != nil:
			err = fmt.Errorf("stat segment: %w", statErr)
		case fi.Size() == 0:
			err = ErrEmptySegment
		}
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("capture %s: %w", dest, err)
	}
	return nil
}
