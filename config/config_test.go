package config

import (
	"os"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, o := range options {
		for _, e := range o.envs {
			if old, ok := os.LookupEnv(e); ok {
				require.NoError(t, os.Unsetenv(e))
				t.Cleanup(func() { os.Setenv(e, old) })
			}
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("test", nil)
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Cam)
	assert.Equal(t, "rtsp://rtsp-to-web:554/id1/0", cfg.Source)
	assert.Equal(t, "/buffer/cam1", cfg.BufferDir)
	assert.Equal(t, "/crashed/cam1", cfg.CrashDir)
	assert.Equal(t, "/var/log/recorder_cam1.log", cfg.LogFile)
	assert.Equal(t, 20*time.Second, cfg.SegmentDuration)
	assert.Equal(t, 5, cfg.BufferSize)
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.Equal(t, time.Hour, cfg.LogShipInterval)
	assert.Equal(t, 2*time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, "crashes/cam1/", cfg.CrashPrefix)
	assert.Equal(t, "logs/cam1/", cfg.LogPrefix)
	assert.Equal(t, "tcp", cfg.RTSPTransport)
	assert.False(t, cfg.UploadsEnabled())
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAM_NUMBER", "4")
	t.Setenv("DURATION", "30")
	t.Setenv("MAX_BUFFER_SIZE", "8")
	t.Setenv("S3_BUCKET_NAME", "footage")
	t.Setenv("S3_UPLOAD_PATH", "incidents/{{.Cam}}")

	cfg, err := Load("test", nil)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://rtsp-to-web:554/id4/0", cfg.Source)
	assert.Equal(t, "/buffer/cam4", cfg.BufferDir)
	assert.Equal(t, 30*time.Second, cfg.SegmentDuration)
	assert.Equal(t, 8, cfg.BufferSize)
	assert.Equal(t, "footage", cfg.Bucket)
	assert.Equal(t, "incidents/4", cfg.CrashPrefix)
	assert.True(t, cfg.UploadsEnabled())
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DURATION", "30")
	t.Setenv("RTSP_URL", "rtsp://env/stream")

	cfg, err := Load("test", []string{"-d", "00:00:45", "--source", "rtsp://flag/stream", "--check-interval", "1m"})
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.SegmentDuration)
	assert.Equal(t, "rtsp://flag/stream", cfg.Source)
	assert.Equal(t, time.Minute, cfg.CheckInterval)
}

func TestSecondaryEnvName(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_URL", "https://cdn/live.m3u8")

	cfg, err := Load("test", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/live.m3u8", cfg.Source)
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)
	cases := [][]string{
		{"--buffer-size", "0"},
		{"--buffer-size", "many"},
		{"--duration", "0"},
		{"--duration", "soon"},
		{"--check-interval", "-5"},
		{"--source", "rtsp://{{.Nope}}"},
		{"--cam", ""},
	}
	for _, args := range cases {
		_, err := Load("test", args)
		assert.Error(t, err, "%v", args)
	}
}

func TestHelp(t *testing.T) {
	clearEnv(t)
	_, err := Load("test", []string{"--help"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRenderTemplate(t *testing.T) {
	s, err := RenderTemplate("/buffer/cam{{.Cam}}", TemplateData{Cam: "2"})
	require.NoError(t, err)
	assert.Equal(t, "/buffer/cam2", s)

	s, err = RenderTemplate("plain", TemplateData{})
	require.NoError(t, err)
	assert.Equal(t, "plain", s)
}
