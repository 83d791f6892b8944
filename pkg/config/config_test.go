package config

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseIntOrHex(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"72", 72, true},
		{"0x2A", 42, true},
		{"0X40", 64, true},
		{"-4143700", -4143700, true},
		{" -0x10 ", -16, true},
		{"bad", 0, false},
		{"0xZZ", 0, false},
	}
	for _, tt := range tests {
		got, err := parseIntOrHex(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseIntOrHex(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("parseIntOrHex(%q) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" console, ,csv,mqtt ")
	want := []string{"console", "csv", "mqtt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseCSV = %v; want %v", got, want)
	}
}

func applyArgs(t *testing.T, cfg *Config, args ...string) error {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return o.Apply(cfg)
}

func TestApplyNoFlagsKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := applyArgs(t, &cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("config changed without flags: %+v", cfg)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	err := applyArgs(t, &cfg,
		"--sensor-type", "simulation",
		"--frontend", "nau7802",
		"--offset", "-4143685",
		"--ratio", "105.4996",
		"--nau7802-i2c-address", "0x2B",
		"--iterations", "0",
		"--interval-ms", "500",
		"--outputs", "console,csv",
		"--csv-path", "/tmp/drip.csv",
		"--mqtt-server", "tcp://broker:1883",
		"--mqtt-topic", "drip/2",
	)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !cfg.Simulated() || cfg.Weight.Frontend != FrontendNAU7802 {
		t.Fatalf("sensor settings: %+v", cfg)
	}
	if cfg.Weight.Offset != -4143685 || cfg.Weight.Ratio != 105.4996 {
		t.Fatalf("calibration: %+v", cfg.Weight)
	}
	if cfg.Weight.NAU7802.I2CAddress != 0x2B {
		t.Fatalf("nau7802 address: %#x", cfg.Weight.NAU7802.I2CAddress)
	}
	if cfg.Iterations != 0 || cfg.IntervalMs != 500 {
		t.Fatalf("loop settings: iterations=%d interval=%d", cfg.Iterations, cfg.IntervalMs)
	}
	if len(cfg.Outputs) != 3 {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Outputs[1].Type != OutputCSV || cfg.Outputs[1].Path != "/tmp/drip.csv" {
		t.Fatalf("csv output: %+v", cfg.Outputs[1])
	}
	if cfg.Outputs[2].Type != OutputMQTT || cfg.Outputs[2].MQTT.Server != "tcp://broker:1883" || cfg.Outputs[2].MQTT.Topic != "drip/2" {
		t.Fatalf("mqtt output: %+v", cfg.Outputs[2])
	}
}

func TestApplyBadOffset(t *testing.T) {
	cfg := DefaultConfig()
	if err := applyArgs(t, &cfg, "--offset", "lots"); err == nil {
		t.Fatal("expected error for invalid offset")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	nau := DefaultConfig()
	nau.Weight.Frontend = FrontendNAU7802
	if err := nau.Validate(); err != nil {
		t.Fatalf("default nau7802 settings invalid: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ratio", func(c *Config) { c.Weight.Ratio = 0 }, "weight.ratio"},
		{"frontend", func(c *Config) { c.Weight.Frontend = "ads1115" }, "weight.frontend"},
		{"sensor type", func(c *Config) { c.SensorType = "mock" }, "sensor_type"},
		{"samples", func(c *Config) { c.Weight.Samples = 0 }, "weight.samples"},
		{"threshold", func(c *Config) { c.Power.AlarmThresholdW = math.MaxUint16 + 1 }, "alarm_threshold_w"},
		{"csv path", func(c *Config) { c.Outputs = []OutputConfig{{Type: OutputCSV}} }, "needs a path"},
		{"output type", func(c *Config) { c.Outputs = []OutputConfig{{Type: "kafka"}} }, "unknown type"},
		{"nau7802 rate", func(c *Config) {
			c.Weight.Frontend = FrontendNAU7802
			c.Weight.NAU7802.SampleRate = 160
		}, "sample_rate"},
		{"nau7802 gain", func(c *Config) {
			c.Weight.Frontend = FrontendNAU7802
			c.Weight.NAU7802.Gain = 3
		}, "nau7802.gain"},
		{"nau7802 channel", func(c *Config) {
			c.Weight.Frontend = FrontendNAU7802
			c.Weight.NAU7802.Channel = 0
		}, "nau7802.channel"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: got %v; want error containing %q", tt.name, err, tt.want)
		}
	}
}
