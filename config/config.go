package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Recorder RecorderConfig `yaml:"recorder"`
	Capture  CaptureConfig  `yaml:"capture"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Events   EventsConfig   `yaml:"events"`
	Admin    AdminConfig    `yaml:"admin"`
	Stats    StatsConfig    `yaml:"stats"`
}

// ListenConfig contains the modem listener settings
type ListenConfig struct {
	Port      int  `yaml:"port"`
	LocalOnly bool `yaml:"local_only"`
	MaxCalls  int  `yaml:"max_calls"`
}

// OutputConfig controls the per-call printout files
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig contains log fanout settings
type LoggingConfig struct {
	// Echo enables the per-call printable echo of received bytes.
	Echo          bool   `yaml:"echo"`
	FileEnabled   bool   `yaml:"file_enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// RecorderConfig contains the SQLite call-log settings
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// CaptureConfig contains the raw transcript archive settings
type CaptureConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	RetentionHours int    `yaml:"retention_hours"`
}

// DedupConfig contains repeat-printout detection settings
type DedupConfig struct {
	Enabled       bool `yaml:"enabled"`
	WindowMinutes int  `yaml:"window_minutes"`
}

// EventsConfig contains the MQTT call-event publisher settings
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// AdminConfig contains the stats console settings
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	// Transport selects the console backend ("plain" or "telnet").
	Transport string `yaml:"transport"`
}

// StatsConfig contains periodic display settings
type StatsConfig struct {
	DisplayIntervalSeconds int `yaml:"display_interval_seconds"`
}

// Default returns the built-in configuration used when no config file
// is given; the historical command-line flags fill in the rest.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: -1, MaxCalls: 64},
		Logging: LoggingConfig{
			RetentionDays: 7,
		},
		Dedup: DedupConfig{WindowMinutes: 30},
		Stats: StatsConfig{DisplayIntervalSeconds: 300},
	}
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Overrides carries the historical command-line surface; set fields
// take precedence over the file values.
type Overrides struct {
	Port      int    // -p; <0 means unset
	LocalOnly bool   // -l
	OutputDir string // -f; also enables output
	Verbose   int    // -v (repeatable); >0 enables the printable echo
}

// Apply merges flag overrides into the configuration.
func (c *Config) Apply(o Overrides) {
	if o.Port >= 0 {
		c.Listen.Port = o.Port
	}
	if o.LocalOnly {
		c.Listen.LocalOnly = true
	}
	if o.OutputDir != "" {
		c.Output.Enabled = true
		c.Output.Dir = o.OutputDir
	}
	if o.Verbose > 0 {
		c.Logging.Echo = true
	}
}

// Validate checks the parts of the configuration the daemon cannot
// start without.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 {
		return fmt.Errorf("must specify a listen port (-p <port> or listen.port)")
	}
	if c.Output.Enabled && c.Output.Dir == "" {
		return fmt.Errorf("output.enabled requires output.dir")
	}
	if c.Recorder.Enabled && c.Recorder.DBPath == "" {
		return fmt.Errorf("recorder.enabled requires recorder.db_path")
	}
	if c.Capture.Enabled && c.Capture.Path == "" {
		return fmt.Errorf("capture.enabled requires capture.path")
	}
	if c.Events.Enabled && (c.Events.Broker == "" || c.Events.Topic == "") {
		return fmt.Errorf("events.enabled requires events.broker and events.topic")
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	bind := "all interfaces"
	if c.Listen.LocalOnly {
		bind = "localhost only"
	}
	fmt.Printf("Listen: port %d (%s, max calls %d)\n", c.Listen.Port, bind, c.Listen.MaxCalls)
	if c.Output.Enabled {
		fmt.Printf("Printouts: %s\n", c.Output.Dir)
	}
	if c.Recorder.Enabled {
		fmt.Printf("Call log: %s\n", c.Recorder.DBPath)
	}
	if c.Capture.Enabled {
		fmt.Printf("Capture: %s (retention %dh)\n", c.Capture.Path, c.Capture.RetentionHours)
	}
	if c.Dedup.Enabled {
		fmt.Printf("Dedup: %d minute window\n", c.Dedup.WindowMinutes)
	}
	if c.Events.Enabled {
		fmt.Printf("Events: %s:%d (topic: %s)\n", c.Events.Broker, c.Events.Port, c.Events.Topic)
	}
	if c.Admin.Enabled {
		fmt.Printf("Admin console: port %d (%s)\n", c.Admin.Port, c.Admin.Transport)
	}
}
