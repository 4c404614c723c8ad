// Package config holds the settings shared by the meaviz binaries.
//
// Settings are layered: a persistent YAML file (created with defaults when
// missing), then MEA_* environment variables, then command-line flags.
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/meaviz/internal/logging"
)

// DefaultPath is where binaries look for the persistent config.
const DefaultPath = "meaviz.yaml"

// SourceSynthetic selects the built-in signal generator instead of a recording.
const SourceSynthetic = "synthetic"

// Config is the persistent configuration.
type Config struct {
	// Stream layout, agreed out of band between producer and consumer.
	SampleRate    int `yaml:"sample_rate"`
	SegmentLength int `yaml:"segment_length"`
	Channels      int `yaml:"channels"`

	// Consumer.
	Address          string        `yaml:"address"`
	Discover         bool          `yaml:"discover"`
	Decimation       int           `yaml:"decimation"`
	CarryRemainder   bool          `yaml:"carry_remainder"`
	WindowSeconds    float64       `yaml:"window_seconds"`
	RefreshEvery     int           `yaml:"refresh_every"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	LagSeconds       float64       `yaml:"lag_seconds"`
	DialRetries      int           `yaml:"dial_retries"`
	WebAddr          string        `yaml:"web_addr"`
	DAQURL           string        `yaml:"daq_url"`

	// Producer.
	Listen     string        `yaml:"listen"`
	TickRate   time.Duration `yaml:"tick_rate"`
	MaxClients int           `yaml:"max_clients"`
	Source     string        `yaml:"source"`
	WAVScale   float64       `yaml:"wav_scale"`
	Duration   time.Duration `yaml:"duration"`
	Loop       bool          `yaml:"loop"`
	Advertise  bool          `yaml:"advertise"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the settings of the reference setup: 60 channels at
// 10 kHz, 10 ms ticks, a 3 s display window.
func Default() Config {
	return Config{
		SampleRate:       10000,
		SegmentLength:    100,
		Channels:         60,
		Address:          "127.0.0.1:8080",
		Decimation:       20,
		WindowSeconds:    3,
		WatchdogInterval: time.Second,
		LagSeconds:       20,
		DialRetries:      3,
		WebAddr:          ":8081",
		Listen:           ":8080",
		TickRate:         10 * time.Millisecond,
		Source:           SourceSynthetic,
		WAVScale:         1,
		Duration:         60 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, eris.Errorf("%s must be positive, got %g", name, v))
		}
	}
	positive("sample_rate", float64(c.SampleRate))
	positive("segment_length", float64(c.SegmentLength))
	positive("channels", float64(c.Channels))
	positive("decimation", float64(c.Decimation))
	positive("window_seconds", c.WindowSeconds)
	positive("tick_rate", float64(c.TickRate))
	if c.RefreshEvery < 0 {
		errs = append(errs, eris.Errorf("refresh_every must not be negative, got %d", c.RefreshEvery))
	}
	if c.MaxClients < 0 {
		errs = append(errs, eris.Errorf("max_clients must not be negative, got %d", c.MaxClients))
	}
	if c.DialRetries < 0 {
		errs = append(errs, eris.Errorf("dial_retries must not be negative, got %d", c.DialRetries))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, w), nil
}

// Load reads a YAML config. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "read %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, eris.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

// LoadOrCreate loads path, writing the defaults there first if it does not exist.
func LoadOrCreate(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return Load(path)
}
