package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfig = `
settings:
  logLevel: debug
station:
  callsign: VK5QI-9
  latitude: -34.9285
  longitude: 138.6007
  altitude: 50
  antenna: "1/4 wave monopole"
receivers:
  - index: 0
    gain: 49.6
    ppm: 1
  - index: 1
    gain: 49.6
    biasTee: true
search:
  frequencyStart: 400050000
  frequencyEnd: 403000000
  binWidth: 800
  interval: 20s
  crop: 0.2
  minSNR: 10
  minDistance: 100000
  quantization: 10000
scheduler:
  searchDelay: 2m
  rxTimeout: 3m
decoder:
  command: "rs41ecc --crc --ecc --json"
  sampleRate: 48000
  grace: 5s
uploaders:
  aprs:
    enabled: true
    callsign: N0CALL-4
    passcode: "12345"
    rate: 30s
  habitat:
    enabled: true
    rate: 30s
    synchronous: true
  ozi:
    enabled: true
    host: localhost
storage:
  enabled: true
  dataDirectory: data
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Settings.Level() != slog.LevelDebug {
		t.Errorf("Level = %v, want debug", config.Settings.Level())
	}
	if len(config.Receivers) != 2 {
		t.Fatalf("Receivers = %d, want 2", len(config.Receivers))
	}
	if !config.Receivers[1].BiasTee {
		t.Error("Second receiver should have the bias-tee enabled")
	}
	if config.Search.FrequencyStart != 400_050_000 {
		t.Errorf("FrequencyStart = %d, want 400050000", config.Search.FrequencyStart)
	}
	if config.Search.Interval.Duration() != 20*time.Second {
		t.Errorf("Interval = %s, want 20s", config.Search.Interval)
	}
	if config.Scheduler.SearchDelay.Duration() != 2*time.Minute {
		t.Errorf("SearchDelay = %v, want 2m", config.Scheduler.SearchDelay.Duration())
	}
	if config.Decoder.Command != "rs41ecc --crc --ecc --json" {
		t.Errorf("Unexpected decoder command: %q", config.Decoder.Command)
	}
	if !config.Uploaders.Habitat.Synchronous {
		t.Error("Habitat uploader should be synchronous")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	minimal := `
receivers:
  - index: 0
search:
  frequencyStart: 400050000
  frequencyEnd: 403000000
  binWidth: 800
decoder:
  command: "rs41ecc --json"
`

	config, err := LoadConfig(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Search.MinSNR != 10 {
		t.Errorf("MinSNR default = %f, want 10", config.Search.MinSNR)
	}
	if config.Search.Quantization != 10_000 {
		t.Errorf("Quantization default = %d, want 10000", config.Search.Quantization)
	}
	if config.Search.Interval.Duration() != 20*time.Second {
		t.Errorf("Interval default = %s, want 20s", config.Search.Interval)
	}
	if config.Decoder.SampleRate != 48_000 {
		t.Errorf("SampleRate default = %d, want 48000", config.Decoder.SampleRate)
	}
	if config.Settings.Level() != slog.LevelInfo {
		t.Errorf("Level default = %v, want info", config.Settings.Level())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			"no receivers",
			`
search: {frequencyStart: 400050000, frequencyEnd: 403000000, binWidth: 800}
decoder: {command: "rs41ecc"}
`,
		},
		{
			"duplicate receiver index",
			`
receivers: [{index: 0}, {index: 0}]
search: {frequencyStart: 400050000, frequencyEnd: 403000000, binWidth: 800}
decoder: {command: "rs41ecc"}
`,
		},
		{
			"inverted band",
			`
receivers: [{index: 0}]
search: {frequencyStart: 403000000, frequencyEnd: 400050000, binWidth: 800}
decoder: {command: "rs41ecc"}
`,
		},
		{
			"no decoder command",
			`
receivers: [{index: 0}]
search: {frequencyStart: 400050000, frequencyEnd: 403000000, binWidth: 800}
`,
		},
		{
			"aprs without passcode",
			`
receivers: [{index: 0}]
search: {frequencyStart: 400050000, frequencyEnd: 403000000, binWidth: 800}
decoder: {command: "rs41ecc"}
uploaders: {aprs: {enabled: true, callsign: N0CALL}}
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.content)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfig_FixedFrequenciesSkipSearchValidation(t *testing.T) {
	content := `
receivers: [{index: 0}]
scheduler:
  fixedFrequencies: [402500000, 404200000]
decoder:
  command: "rs41ecc --json"
`

	config, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(config.Scheduler.FixedFrequencies) != 2 {
		t.Errorf("FixedFrequencies = %d, want 2", len(config.Scheduler.FixedFrequencies))
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
