package reel

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reel/pkg/media"
	"reel/pkg/rtsp"
)

// DefaultConfigPath is used when no -config flag is given
var DefaultConfigPath = filepath.Join("configs", "default.yaml")

type Config struct {
	RTSP    RTSPConfig    `yaml:"rtsp"`
	Media   MediaConfig   `yaml:"media"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

type RTSPConfig struct {
	Port              int `yaml:"port"`
	Timeout           int `yaml:"timeout"` // seconds, 0 disables
	DefaultClientPort int `yaml:"default_client_port"`
}

type MediaConfig struct {
	Root   string `yaml:"root"`
	Format string `yaml:"format"`
}

type StreamConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	PayloadType   int           `yaml:"payload_type"`
	SSRC          uint32        `yaml:"ssrc"`
	MaxPayload    int           `yaml:"max_payload"` // 0 sends each frame in one packet
	StatsInterval time.Duration `yaml:"stats_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the settings used for keys missing from the file
func DefaultConfig() Config {
	return Config{
		RTSP: RTSPConfig{
			Port:              rtsp.DefaultRTSPPort,
			Timeout:           rtsp.DefaultTimeout,
			DefaultClientPort: rtsp.DefaultClientPort,
		},
		Media: MediaConfig{
			Root:   ".",
			Format: media.FormatLengthPrefixed,
		},
		Stream: StreamConfig{
			FrameInterval: 40 * time.Millisecond,
			PayloadType:   26,
			StatsInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from yaml file
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	// 파일 존재 확인
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses yaml on top of DefaultConfig and validates the result
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.RTSP.Port < 0 || c.RTSP.Port > 65535 {
		return fmt.Errorf("invalid rtsp port: %d (must be between 0-65535)", c.RTSP.Port)
	}
	if c.RTSP.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %d (must be non-negative)", c.RTSP.Timeout)
	}
	// RTCP는 port+1을 쓴다
	if c.RTSP.DefaultClientPort <= 0 || c.RTSP.DefaultClientPort >= 65535 {
		return fmt.Errorf("invalid default_client_port: %d (must be between 1-65534)", c.RTSP.DefaultClientPort)
	}

	if !media.ValidFormat(c.Media.Format) {
		return fmt.Errorf("invalid media format: %q (must be %q or %q)",
			c.Media.Format, media.FormatLengthPrefixed, media.FormatJPEGMarkers)
	}
	if c.Media.Root == "" {
		return fmt.Errorf("media root must not be empty")
	}

	if c.Stream.FrameInterval <= 0 {
		return fmt.Errorf("invalid frame_interval: %s (must be positive)", c.Stream.FrameInterval)
	}
	if c.Stream.PayloadType < 0 || c.Stream.PayloadType > 127 {
		return fmt.Errorf("invalid payload_type: %d (must be between 0-127)", c.Stream.PayloadType)
	}
	if c.Stream.MaxPayload < 0 {
		return fmt.Errorf("invalid max_payload: %d (must be non-negative)", c.Stream.MaxPayload)
	}
	if c.Stream.StatsInterval < 0 {
		return fmt.Errorf("invalid stats_interval: %s (must be non-negative)", c.Stream.StatsInterval)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SessionConfig maps the stream settings onto an RTSP session configuration
func (c *Config) SessionConfig(opener media.Opener) rtsp.SessionConfig {
	return rtsp.SessionConfig{
		Opener:            opener,
		FrameInterval:     c.Stream.FrameInterval,
		PayloadType:       uint8(c.Stream.PayloadType),
		SSRC:              c.Stream.SSRC,
		MaxPayload:        c.Stream.MaxPayload,
		DefaultClientPort: c.RTSP.DefaultClientPort,
		Timeout:           time.Duration(c.RTSP.Timeout) * time.Second,
	}
}
