package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ListFileName is the scratch concat list written next to merged artifacts.
const ListFileName = "file_list.txt"

// ErrNoSegments is returned by Merge when there is nothing to merge.
var ErrNoSegments = errors.New("no segments to merge")

// Merge joins segments, in order, into out. A single segment is moved into
// place without touching its bytes. Several are concatenated by ffmpeg's
// concat demuxer in stream-copy mode, and the inputs are deleted only once
// ffmpeg reports success. On failure every input is left where it was.
func (f *FFmpeg) Merge(ctx context.Context, segments []string, out string) error {
	switch len(segments) {
	case 0:
		return ErrNoSegments
	case 1:
		if err := MoveFile(segments[0], out); err != nil {
			return fmt.Errorf("merge single segment: %w", err)
		}
		return nil
	}

	listDir := f.cfg.ListDir
	if listDir == "" {
		listDir = filepath.Dir(out)
	}
	listPath := filepath.Join(listDir, ListFileName)
	if err := writeConcatList(listPath, segments); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy", "-vsync", "vfr",
		out,
	}
	if err := f.run(ctx, f.cfg.MergeTimeout, args); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("concat %d segments: %w", len(segments), err)
	}

	for _, seg := range segments {
		if err := os.Remove(seg); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("remove merged segment %s: %v", seg, err)
		}
	}
	return nil
}

// writeConcatList writes the concat demuxer input listing, one absolute
// path per line, single quotes escaped as the demuxer expects.
func writeConcatList(path string, segments []string) error {
	var sb strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			return err
		}
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		sb.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// MoveFile renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
