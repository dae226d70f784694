package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/radiosonde-watch/autorx/internal/sdr/rtl"
)

// Duration wraps time.Duration so intervals can be written as "30s" or "2m"
// in the configuration file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: failed to parse duration: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings         `yaml:"settings"`
	Station   StationConfig    `yaml:"station"`
	Receivers []ReceiverConfig `yaml:"receivers"`
	Search    SearchConfig     `yaml:"search"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Decoder   DecoderConfig    `yaml:"decoder"`
	Uploaders UploadersConfig  `yaml:"uploaders"`
	Storage   StorageConfig    `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level maps the configured log level onto slog levels, defaulting to info.
func (s Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StationConfig identifies the receiving station.
type StationConfig struct {
	Callsign  string  `yaml:"callsign"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"`
	Antenna   string  `yaml:"antenna"`
}

// ReceiverConfig describes one RTL-SDR tuner.
type ReceiverConfig struct {
	Index   int     `yaml:"index"`
	Serial  string  `yaml:"serial"`
	Gain    float64 `yaml:"gain"`
	PPM     int     `yaml:"ppm"`
	BiasTee bool    `yaml:"biasTee"`
}

// SearchConfig describes the scanned band and peak detection thresholds.
type SearchConfig struct {
	FrequencyStart int64            `yaml:"frequencyStart"`
	FrequencyEnd   int64            `yaml:"frequencyEnd"`
	BinWidth       int64            `yaml:"binWidth"`
	Interval       rtl.TimeDuration `yaml:"interval"`
	Crop           float32          `yaml:"crop"`
	MinSNR         float64          `yaml:"minSNR"`
	MinDistance    float64          `yaml:"minDistance"`
	Quantization   int64            `yaml:"quantization"`
}

// SchedulerConfig tunes the session manager; zero values fall back to
// built-in defaults.
type SchedulerConfig struct {
	SearchAttempts   int      `yaml:"searchAttempts"`
	SearchDelay      Duration `yaml:"searchDelay"`
	NoDataInterval   Duration `yaml:"noDataInterval"`
	RxTimeout        Duration `yaml:"rxTimeout"`
	MaxRetries       int      `yaml:"maxRetries"`
	MaxDecodeCycles  int      `yaml:"maxDecodeCycles"`
	StarvationCycles int      `yaml:"starvationCycles"`
	TickInterval     Duration `yaml:"tickInterval"`
	FixedFrequencies []int64  `yaml:"fixedFrequencies"`
}

// DecoderConfig describes the external decoder pipeline.
type DecoderConfig struct {
	Command    string   `yaml:"command"`
	SampleRate int      `yaml:"sampleRate"`
	Grace      Duration `yaml:"grace"`
}

// UploadersConfig enables and tunes the network sinks.
type UploadersConfig struct {
	APRS    APRSConfig    `yaml:"aprs"`
	Habitat HabitatConfig `yaml:"habitat"`
	Ozi     OziConfig     `yaml:"ozi"`
}

// APRSConfig configures the APRS-IS uploader.
type APRSConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Server   string   `yaml:"server"`
	Callsign string   `yaml:"callsign"`
	Passcode string   `yaml:"passcode"`
	Comment  string   `yaml:"comment"`
	Rate     Duration `yaml:"rate"`
}

// HabitatConfig configures the tracker database uploader.
type HabitatConfig struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url"`
	Rate        Duration `yaml:"rate"`
	Synchronous bool     `yaml:"synchronous"`
}

// OziConfig configures the local mapping outputs.
type OziConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	WaypointPort int    `yaml:"waypointPort"`
	SummaryPort  int    `yaml:"summaryPort"`
}

// StorageConfig configures the flight log database.
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if len(c.Receivers) == 0 {
		return fmt.Errorf("config: at least one receiver is required")
	}

	seen := make(map[int]struct{}, len(c.Receivers))
	for _, rx := range c.Receivers {
		if _, ok := seen[rx.Index]; ok {
			return fmt.Errorf("config: duplicate receiver index %d", rx.Index)
		}
		seen[rx.Index] = struct{}{}
	}

	fixed := len(c.Scheduler.FixedFrequencies) > 0
	if !fixed {
		if c.Search.FrequencyStart <= 0 || c.Search.FrequencyEnd <= c.Search.FrequencyStart {
			return fmt.Errorf("config: invalid search band %d:%d", c.Search.FrequencyStart, c.Search.FrequencyEnd)
		}
		if c.Search.BinWidth <= 0 {
			return fmt.Errorf("config: search bin width must be positive")
		}
		if c.Search.MinSNR <= 0 {
			c.Search.MinSNR = 10
		}
		if c.Search.MinDistance <= 0 {
			c.Search.MinDistance = 100_000
		}
		if c.Search.Quantization <= 0 {
			c.Search.Quantization = 10_000
		}
		if c.Search.Interval.Duration() == 0 {
			c.Search.Interval = rtl.NewTimeDuration(20 * time.Second)
		}
	}

	if strings.TrimSpace(c.Decoder.Command) == "" {
		return fmt.Errorf("config: decoder command is required")
	}
	if c.Decoder.SampleRate <= 0 {
		c.Decoder.SampleRate = 48_000
	}

	if c.Uploaders.APRS.Enabled {
		if c.Uploaders.APRS.Callsign == "" || c.Uploaders.APRS.Passcode == "" {
			return fmt.Errorf("config: aprs uploader requires callsign and passcode")
		}
		if c.Uploaders.APRS.Rate <= 0 {
			c.Uploaders.APRS.Rate = Duration(30 * time.Second)
		}
	}

	if c.Uploaders.Habitat.Enabled {
		if c.Station.Callsign == "" {
			return fmt.Errorf("config: habitat uploader requires a station callsign")
		}
		if c.Uploaders.Habitat.Rate <= 0 {
			c.Uploaders.Habitat.Rate = Duration(30 * time.Second)
		}
	}

	return nil
}
