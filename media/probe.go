package media

import (
	"context"
)

// Probe reads one second of the source into the null muxer. A nil return
// means the source is reachable right now; any error, timeout included,
// means it is not.
func (f *FFmpeg) Probe(ctx context.Context, url string) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, f.inputArgs(url)...)
	args = append(args, "-t", "1", "-c", "copy", "-f", "null", "-")
	return f.run(ctx, f.cfg.ProbeTimeout, args)
}
