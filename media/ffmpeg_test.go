package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg. Every invocation
// appends its argument list to the returned log file, then runs body with
// $out set to the last argument and $list set to the value after -i.
func fakeFFmpeg(t *testing.T, body string) (bin, argLog string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "ffmpeg")
	argLog = filepath.Join(dir, "args.log")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> '" + argLog + "'\n" +
		"for a; do out=\"$a\"; done\n" +
		"prev=\"\"; for a; do if [ \"$prev\" = \"-i\" ]; then list=\"$a\"; fi; prev=\"$a\"; done\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, argLog
}

func invocations(t *testing.T, argLog string) []string {
	t.Helper()
	b, err := os.ReadFile(argLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestProbe(t *testing.T) {
	bin, argLog := fakeFFmpeg(t, "exit 0")
	f := New(Config{Path: bin, RTSPTransport: "tcp"})

	require.NoError(t, f.Probe(context.Background(), "rtsp://cam/id1/0"))

	calls := invocations(t, argLog)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-rtsp_transport tcp -i rtsp://cam/id1/0 -t 1 -c copy -f null -")
}

func TestProbeSkipsTransportForHTTP(t *testing.T) {
	bin, argLog := fakeFFmpeg(t, "exit 0")
	f := New(Config{Path: bin, RTSPTransport: "tcp"})

	require.NoError(t, f.Probe(context.Background(), "http://cdn/live.m3u8"))
	assert.NotContains(t, invocations(t, argLog)[0], "-rtsp_transport")
}

func TestProbeFailure(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "exit 1")
	f := New(Config{Path: bin})

	assert.Error(t, f.Probe(context.Background(), "rtsp://cam"))
}

func TestProbeTimeout(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "sleep 30")
	f := New(Config{Path: bin, ProbeTimeout: 200 * time.Millisecond})

	start := time.Now()
	err := f.Probe(context.Background(), "rtsp://cam")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCapture(t *testing.T) {
	bin, argLog := fakeFFmpeg(t, "printf clip > \"$out\"")
	f := New(Config{Path: bin, RTSPTransport: "tcp"})
	dest := filepath.Join(t.TempDir(), "seg.mp4")

	require.NoError(t, f.Capture(context.Background(), "rtsp://cam", dest, 20*time.Second))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "clip", string(b))
	assert.Contains(t, invocations(t, argLog)[0], "-i rtsp://cam -t 20 -c copy "+dest)
}

func TestCaptureFailureRemovesPartialFile(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "printf partial > \"$out\"; exit 1")
	f := New(Config{Path: bin})
	dest := filepath.Join(t.TempDir(), "seg.mp4")

	require.Error(t, f.Capture(context.Background(), "rtsp://cam", dest, time.Second))
	assert.NoFileExists(t, dest)
}

func TestCaptureEmptyOutputIsFailure(t *testing.T) {
	bin, _ := fakeFFmpeg(t, ": > \"$out\"")
	f := New(Config{Path: bin})
	dest := filepath.Join(t.TempDir(), "seg.mp4")

	err := f.Capture(context.Background(), "rtsp://cam", dest, time.Second)
	require.ErrorIs(t, err, ErrEmptySegment)
	assert.NoFileExists(t, dest)
}

func TestCaptureCancelled(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "printf partial > \"$out\"; sleep 30")
	f := New(Config{Path: bin})
	dest := filepath.Join(t.TempDir(), "seg.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	require.Error(t, f.Capture(ctx, "rtsp://cam", dest, time.Minute))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NoFileExists(t, dest)
}
