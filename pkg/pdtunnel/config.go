package pdtunnel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

const (
	DefaultPollInterval  = time.Second
	DefaultReadChunkSize = 1024
	DefaultDialTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultDialHost      = "127.0.0.1"
)

// Config represents the tunables of one side of the tunnel
type Config struct {
	// AutoStop makes Run return once no monitored server remains. It is set by
	// the side that owns the worker process, never read from a file.
	AutoStop bool `yaml:"-"`

	// PollInterval bounds each readiness wait, and so is the monitor tick period
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReadChunkSize is the largest single read from the pipe or a leg
	ReadChunkSize int `yaml:"read_chunk_size"`

	// DialTimeout bounds the connect of an active tunnel client
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds each write to a tunnel client's socket. A leg that
	// stays unwritable that long is torn down.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// DialHost is the address active tunnel clients connect to
	DialHost string `yaml:"dial_host"`

	// ListenHost is the address tunnel servers listen on and monitors probe.
	// Empty means all interfaces.
	ListenHost string `yaml:"listen_host"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a Config with every field at its default
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = DefaultReadChunkSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialHost == "" {
		c.DialHost = DefaultDialHost
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks a Config after defaults have been applied
func (c *Config) Validate() error {
	if c.PollInterval < time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 1ms, got %s", c.PollInterval)
	}
	if c.ReadChunkSize < 1 {
		return fmt.Errorf("read_chunk_size must be positive, got %d", c.ReadChunkSize)
	}
	if pdshare.StringToLogLevel(c.LogLevel) == pdshare.LogLevelUnknown {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}

// LoadConfigFile reads a YAML config file. Fields absent from the file keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}
