package logship

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu       sync.Mutex
	keys     []string
	contents []string
	err      error
}

func (u *recordingUploader) Upload(_ context.Context, localPath, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	u.contents = append(u.contents, string(b))
	if u.err != nil {
		return u.err
	}
	return os.Remove(localPath)
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.keys)
}

func setup(t *testing.T) (logFile, snapDir string) {
	t.Helper()
	dir := t.TempDir()
	logFile = filepath.Join(dir, "recorder_cam1.log")
	require.NoError(t, os.WriteFile(logFile, []byte("line one\nline two\n"), 0644))
	snapDir = filepath.Join(dir, "crashed")
	require.NoError(t, os.MkdirAll(snapDir, 0755))
	return logFile, snapDir
}

func fixedNow() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }

func TestShipOnceUploadsSnapshot(t *testing.T) {
	logFile, snapDir := setup(t)
	up := &recordingUploader{}
	s := New(logFile, snapDir, "logs/cam1/", up, WithNow(fixedNow))

	require.NoError(t, s.ShipOnce(context.Background()))

	require.Equal(t, []string{"logs/cam1/recorder_cam1_2026-10-14_12-00-00.log"}, up.keys)
	assert.Equal(t, "line one\nline two\n", up.contents[0])
	assert.FileExists(t, logFile, "live log must be copied, not moved")
	entries, err := os.ReadDir(snapDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShipOnceNeverReusesKey(t *testing.T) {
	logFile, snapDir := setup(t)
	up := &recordingUploader{}
	now := fixedNow()
	s := New(logFile, snapDir, "logs/cam1", up, WithNow(func() time.Time {
		now = now.Add(time.Hour)
		return now
	}))

	require.NoError(t, s.ShipOnce(context.Background()))
	require.NoError(t, os.WriteFile(logFile, []byte("more\n"), 0644))
	require.NoError(t, s.ShipOnce(context.Background()))

	assert.Equal(t, []string{
		"logs/cam1/recorder_cam1_2026-10-14_13-00-00.log",
		"logs/cam1/recorder_cam1_2026-10-14_14-00-00.log",
	}, up.keys)
	assert.Equal(t, []string{"line one\nline two\n", "more\n"}, up.contents)
}

func TestShipOnceFailureKeepsLiveLog(t *testing.T) {
	logFile, snapDir := setup(t)
	up := &recordingUploader{err: errors.New("no route to host")}
	s := New(logFile, snapDir, "logs/cam1/", up, WithNow(fixedNow))

	require.Error(t, s.ShipOnce(context.Background()))

	b, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(b))
	entries, err := os.ReadDir(snapDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed snapshot is not left behind")
}

func TestShipOnceMissingLog(t *testing.T) {
	_, snapDir := setup(t)
	up := &recordingUploader{}
	s := New(filepath.Join(snapDir, "absent.log"), snapDir, "logs/", up)

	assert.Error(t, s.ShipOnce(context.Background()))
	assert.Zero(t, up.count())
}

func TestScheduleSurvivesFailures(t *testing.T) {
	logFile, snapDir := setup(t)
	up := &recordingUploader{err: errors.New("bucket unreachable")}
	s := New(logFile, snapDir, "logs/cam1/", up, WithInterval(time.Second))

	s.Start()
	require.Eventually(t, func() bool { return up.count() >= 2 }, 6*time.Second, 50*time.Millisecond)

	<-s.Stop().Done()
	n := up.count()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, up.count(), "no shipments after Stop")
}
