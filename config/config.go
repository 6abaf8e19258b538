// Package config resolves the recorder settings from flags, environment
// variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/whisper-darkly/sticky-blackbox/units"
)

// Config holds every recorder setting after defaults and templates have
// been applied.
type Config struct {
	Cam    string // camera number, feeds {{.Cam}} in paths
	Source string // stream URL (rtsp:// or an HLS .m3u8)

	BufferDir string
	CrashDir  string
	LogFile   string

	SegmentDuration time.Duration
	BufferSize      int
	CheckInterval   time.Duration

	Bucket      string // empty = uploads disabled
	CrashPrefix string
	LogPrefix   string
	Region      string
	Endpoint    string

	LogShipInterval time.Duration

	FFmpegPath      string
	RTSPTransport   string
	ProbeTimeout    time.Duration
	ShutdownTimeout time.Duration
	Resolution      int
	UserAgent       string

	LogLevel     string
	OutputFormat string

	ShowVersion bool
}

// option describes one setting: its flag, the environment variables that
// may carry it, and its default.
type option struct {
	key   string
	short string
	envs  []string
	def   string
	usage string
}

var options = []option{
	{"cam", "c", []string{"CAM_NUMBER"}, "1", "Camera number, available as {{.Cam}} in paths"},
	{"source", "s", []string{"RTSP_URL", "STREAM_URL"}, "rtsp://rtsp-to-web:554/id{{.Cam}}/0", "Stream URL (rtsp:// or HLS .m3u8)"},
	{"buffer-dir", "", []string{"BUFFER_DIR"}, "/buffer/cam{{.Cam}}", "Directory for rolling segments"},
	{"crash-dir", "", []string{"CRASH_DIR"}, "/crashed/cam{{.Cam}}", "Directory for crash artifacts"},
	{"log", "", []string{"LOG_FILE"}, "/var/log/recorder_cam{{.Cam}}.log", "Log file path"},
	{"duration", "d", []string{"DURATION"}, "20", "Segment duration (plain number = seconds)"},
	{"buffer-size", "n", []string{"MAX_BUFFER_SIZE"}, "5", "Number of segments kept in the rolling buffer"},
	{"check-interval", "i", []string{"CHECK_INTERVAL"}, "10", "Re-check interval while the stream is down (plain number = seconds)"},
	{"bucket", "b", []string{"S3_BUCKET_NAME", "S3_BUCKET"}, "", "Destination bucket (empty disables uploads)"},
	{"crash-prefix", "", []string{"S3_UPLOAD_PATH"}, "crashes/cam{{.Cam}}/", "Remote prefix for crash artifacts"},
	{"log-prefix", "", []string{"S3_LOG_PATH"}, "logs/cam{{.Cam}}/", "Remote prefix for shipped logs"},
	{"s3-region", "", []string{"S3_REGION"}, "", "Bucket region (default: AWS SDK chain)"},
	{"s3-endpoint", "", []string{"S3_ENDPOINT"}, "", "S3-compatible endpoint URL"},
	{"log-ship-interval", "", []string{"LOG_SHIP_INTERVAL"}, "1h", "Interval between log uploads (plain number = minutes)"},
	{"ffmpeg", "", []string{"FFMPEG_PATH"}, "ffmpeg", "ffmpeg binary"},
	{"rtsp-transport", "", []string{"RTSP_TRANSPORT"}, "tcp", "RTSP transport passed to ffmpeg (empty = ffmpeg default)"},
	{"probe-timeout", "", []string{"PROBE_TIMEOUT"}, "15", "Hard ceiling for one stream probe (plain number = seconds)"},
	{"shutdown-timeout", "", []string{"SHUTDOWN_TIMEOUT"}, "2m", "Time allowed to archive the buffer on shutdown (plain number = seconds)"},
	{"resolution", "r", []string{"STREAM_RESOLUTION"}, "720", "Preferred HLS variant height"},
	{"user-agent", "a", []string{"STREAM_USER_AGENT"}, "", "User-Agent for HLS playlist requests"},
	{"log-level", "", []string{"LOG_LEVEL"}, "info", "Log level: debug, info, warn, error"},
	{"output-format", "", []string{"OUTPUT_FORMAT"}, "normal", "Output format: normal, json"},
}

// Load parses args (without the program name) and the environment into a
// Config. It returns flag.ErrHelp when --help was requested.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	for _, o := range options {
		fs.StringP(o.key, o.short, o.def, o.usage+envHint(o.envs))
	}
	showVersion := fs.BoolP("version", "V", false, "Print version and exit")
	fs.SortFlags = false

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	for _, o := range options {
		if err := v.BindEnv(append([]string{o.key}, o.envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", o.key, err)
		}
	}

	cfg := &Config{ShowVersion: *showVersion}
	if err := cfg.fill(v); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fill(v *viper.Viper) error {
	var err error
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	c.Cam = str("cam")
	if c.Cam == "" {
		return fmt.Errorf("cam must not be empty")
	}
	data := TemplateData{Cam: c.Cam}
	render := func(key string) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = RenderTemplate(str(key), data)
		if err != nil {
			err = fmt.Errorf("%s: %w", key, err)
		}
		return s
	}

	c.Source = render("source")
	c.BufferDir = render("buffer-dir")
	c.CrashDir = render("crash-dir")
	c.LogFile = render("log")
	c.CrashPrefix = render("crash-prefix")
	c.LogPrefix = render("log-prefix")
	if err != nil {
		return err
	}

	c.Bucket = str("bucket")
	c.Region = str("s3-region")
	c.Endpoint = str("s3-endpoint")
	c.FFmpegPath = str("ffmpeg")
	c.RTSPTransport = str("rtsp-transport")
	c.UserAgent = str("user-agent")
	c.LogLevel = str("log-level")
	c.OutputFormat = str("output-format")

	durations := []struct {
		key  string
		bare time.Duration
		dst  *time.Duration
	}{
		{"duration", time.Second, &c.SegmentDuration},
		{"check-interval", time.Second, &c.CheckInterval},
		{"log-ship-interval", time.Minute, &c.LogShipInterval},
		{"probe-timeout", time.Second, &c.ProbeTimeout},
		{"shutdown-timeout", time.Second, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, perr := units.ParseDuration(str(d.key), d.bare)
		if perr != nil {
			return fmt.Errorf("%s: %w", d.key, perr)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = parsed
	}

	if c.BufferSize, err = positiveInt(str("buffer-size")); err != nil {
		return fmt.Errorf("buffer-size: %w", err)
	}
	if c.Resolution, err = strconv.Atoi(str("resolution")); err != nil || c.Resolution < 0 {
		return fmt.Errorf("resolution: invalid value %q", str("resolution"))
	}

	if c.Source == "" {
		return fmt.Errorf("source must not be empty")
	}
	if c.BufferDir == "" || c.CrashDir == "" {
		return fmt.Errorf("buffer-dir and crash-dir must not be empty")
	}
	return nil
}

// UploadsEnabled reports whether a bucket is configured.
func (c *Config) UploadsEnabled() bool { return c.Bucket != "" }

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

func envHint(envs []string) string {
	if len(envs) == 0 {
		return ""
	}
	return " [$" + strings.Join(envs, ", $") + "]"
}
