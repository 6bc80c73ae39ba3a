package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CaptureConfig holds everything the capture workers need.
type CaptureConfig struct {
	// Input is either a device name for live capture or a path to a trace
	// file for offline replay.
	Input       string `yaml:"input"`
	Threads     int    `yaml:"threads"`
	Interval    uint32 `yaml:"interval"`
	SnapLen     int32  `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	StripVLANs  bool   `yaml:"strip_vlans"`
	WriteStats  bool   `yaml:"write_stats"`

	// SizeOfCoordChannel bounds the coordination channel between the
	// workers and the merger.
	SizeOfCoordChannel int `yaml:"size_of_coord_channel"`
	// SizeOfWriteQueue bounds each worker's asynchronous write queue.
	SizeOfWriteQueue int `yaml:"size_of_write_queue"`
}

// OutputConfig describes how output file names are derived.
type OutputConfig struct {
	Template  string `yaml:"template"`
	MonitorID string `yaml:"monitor_id"`
	Format    string `yaml:"format"`
}

// LoggingConfig holds settings for the file log mode.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// NotifyConfig configures the optional NATS interval-event publisher.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// APIConfig configures the optional HTTP status endpoint.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ClickHouseConfig configures the optional interval-statistics sink.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level configuration struct for the entire daemon.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Output     OutputConfig     `yaml:"output"`
	PidFile    string           `yaml:"pidfile"`
	Logging    LoggingConfig    `yaml:"logging"`
	Notify     NotifyConfig     `yaml:"notify"`
	API        APIConfig        `yaml:"api"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

const (
	defaultSnapLen      = 65536
	defaultCoordChannel = 1024
	defaultWriteQueue   = 4096
)

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied and required fields validated.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Capture.Input == "" {
		return fmt.Errorf("capture.input must be set")
	}
	if c.Capture.Threads <= 0 {
		return fmt.Errorf("capture.threads must be a positive number, got %d", c.Capture.Threads)
	}
	if c.Capture.Interval == 0 {
		return fmt.Errorf("capture.interval must be a positive number of seconds")
	}
	if c.Output.Template == "" {
		return fmt.Errorf("output.template must be set")
	}
	if c.PidFile == "" {
		return fmt.Errorf("pidfile must be set")
	}
	if c.Capture.SnapLen <= 0 {
		c.Capture.SnapLen = defaultSnapLen
	}
	if c.Capture.SizeOfCoordChannel <= 0 {
		c.Capture.SizeOfCoordChannel = defaultCoordChannel
	}
	if c.Capture.SizeOfWriteQueue <= 0 {
		c.Capture.SizeOfWriteQueue = defaultWriteQueue
	}
	if c.Output.Format == "" {
		c.Output.Format = "pcapfile"
	}
	if c.Notify.Enabled && c.Notify.Subject == "" {
		return fmt.Errorf("notify.subject must be set when notify is enabled")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen must be set when the status API is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host must be set when the clickhouse sink is enabled")
	}
	return nil
}
