package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EndpointPath is where the speech service accepts audio sessions
	EndpointPath = "/ws/audio"

	// SourceMicrophone selects the default input device
	SourceMicrophone = "microphone"
	// SinkSpeaker selects the default output device
	SinkSpeaker = "speaker"
)

// Config represents the complete client configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Debug   DebugConfig   `yaml:"debug"`
}

// ServerConfig contains speech service connection settings
type ServerConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// TokenSecret enables a signed bearer token on the handshake
	TokenSecret string        `yaml:"token_secret"`
	DeviceID    string        `yaml:"device_id"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// AudioConfig contains capture and playback settings
type AudioConfig struct {
	CaptureSampleRate  int           `yaml:"capture_sample_rate"`
	PlaybackSampleRate int           `yaml:"playback_sample_rate"`
	Channels           int           `yaml:"channels"`
	ChunkInterval      time.Duration `yaml:"chunk_interval"`
	// Source is "microphone" or the path of a WAV file to replay
	Source string `yaml:"source"`
	// Sink is "speaker" or a directory receiving one WAV file per fragment
	Sink string `yaml:"sink"`
}

// SessionConfig contains conversation behavior
type SessionConfig struct {
	Transcripts bool `yaml:"transcripts"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	File         string `yaml:"file"`
	ConsoleLevel string `yaml:"console_level"`
}

// DebugConfig contains the optional debug HTTP server settings
type DebugConfig struct {
	// Addr is the listen address; empty disables the server
	Addr string `yaml:"addr"`
}

// Options are the command-line flags. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config        string `short:"f" long:"config" description:"client config YAML path"`
	URL           string `short:"u" long:"url" description:"speech service base URL, e.g. ws://localhost:8000"`
	Source        string `long:"source" description:"capture source: microphone or a WAV file to replay"`
	Sink          string `long:"sink" description:"playback sink: speaker or a directory for WAV files"`
	NoTranscripts bool   `long:"no-transcripts" description:"do not show transcripts of your own speech"`
	DebugAddr     string `long:"debug-addr" description:"listen address of the debug HTTP server"`
	LogFile       string `long:"log-file" description:"JSON log file path"`
	LogLevel      string `long:"log-level" description:"log level: debug, info, warn, error"`
	Verbose       bool   `short:"v" long:"verbose" description:"echo warnings to stderr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "ws://localhost:8000",
			ReconnectDelay: 3000 * time.Millisecond,
			TokenTTL:       24 * time.Hour,
		},
		Audio: AudioConfig{
			CaptureSampleRate:  16000,
			PlaybackSampleRate: 24000,
			Channels:           1,
			ChunkInterval:      250 * time.Millisecond,
			Source:             SourceMicrophone,
			Sink:               SinkSpeaker,
		},
		Session: SessionConfig{Transcripts: true},
		Logging: LoggingConfig{
			Level: "info",
			File:  "voicelink.log",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment (including a .env file) and command-line args, in that order
// of precedence from lowest to highest
func Load(args []string) (*Config, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	// a missing .env file is fine, the environment may be set directly
	_ = godotenv.Load()

	cfg := Default()
	if opts.Config != "" {
		if err := cfg.loadFile(opts.Config); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsHelp reports whether err is the request for usage text
func IsHelp(err error) bool {
	var flagsErr *flags.Error
	return errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.URL = getEnv("VOICELINK_SERVER_URL", c.Server.URL)
	c.Server.TokenSecret = getEnv("VOICELINK_TOKEN_SECRET", c.Server.TokenSecret)
	c.Server.DeviceID = getEnv("VOICELINK_DEVICE_ID", c.Server.DeviceID)
	c.Audio.Source = getEnv("VOICELINK_AUDIO_SOURCE", c.Audio.Source)
	c.Audio.Sink = getEnv("VOICELINK_AUDIO_SINK", c.Audio.Sink)
	c.Debug.Addr = getEnv("VOICELINK_DEBUG_ADDR", c.Debug.Addr)
	c.Logging.Level = getEnv("VOICELINK_LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("VOICELINK_LOG_FILE", c.Logging.File)

	var err error
	if c.Server.ReconnectDelay, err = getEnvDuration("VOICELINK_RECONNECT_DELAY", c.Server.ReconnectDelay); err != nil {
		return err
	}
	if c.Session.Transcripts, err = getEnvBool("VOICELINK_TRANSCRIPTS", c.Session.Transcripts); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyOptions(opts Options) {
	if opts.URL != "" {
		c.Server.URL = opts.URL
	}
	if opts.Source != "" {
		c.Audio.Source = opts.Source
	}
	if opts.Sink != "" {
		c.Audio.Sink = opts.Sink
	}
	if opts.NoTranscripts {
		c.Session.Transcripts = false
	}
	if opts.DebugAddr != "" {
		c.Debug.Addr = opts.DebugAddr
	}
	if opts.LogFile != "" {
		c.Logging.File = opts.LogFile
	}
	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.Verbose {
		c.Logging.ConsoleLevel = "warn"
	}
}

// Validate validates every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", s.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", s.URL)
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", s.ReconnectDelay)
	}
	if s.TokenSecret != "" && s.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %s", s.TokenTTL)
	}
	return nil
}

// EndpointURL returns the audio session endpoint under the base URL
func (s *ServerConfig) EndpointURL() string {
	base := strings.TrimRight(s.URL, "/")
	if strings.HasSuffix(base, EndpointPath) {
		return base
	}
	return base + EndpointPath
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.CaptureSampleRate < 8000 || a.CaptureSampleRate > 48000 {
		return fmt.Errorf("capture_sample_rate must be between 8000 and 48000, got %d", a.CaptureSampleRate)
	}
	if a.PlaybackSampleRate < 8000 || a.PlaybackSampleRate > 48000 {
		return fmt.Errorf("playback_sample_rate must be between 8000 and 48000, got %d", a.PlaybackSampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.ChunkInterval <= 0 {
		return fmt.Errorf("chunk_interval must be positive, got %s", a.ChunkInterval)
	}
	if a.Source == "" {
		return fmt.Errorf("source is required")
	}
	if a.Sink == "" {
		return fmt.Errorf("sink is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
