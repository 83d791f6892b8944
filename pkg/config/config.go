package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ericogr/drip/pkg/calibration"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	FrontendHX711   = "hx711"
	FrontendNAU7802 = "nau7802"

	OutputConsole = "console"
	OutputCSV     = "csv"
	OutputMQTT    = "mqtt"
	OutputRedis   = "redis"
)

type MQTTConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	Retain   bool   `json:"retain,omitempty"`

	// DiscoveryPrefix enables Home Assistant discovery, usually "homeassistant".
	DiscoveryPrefix string `json:"discovery_prefix,omitempty"`
	DiscoveryName   string `json:"discovery_name,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	// MaxLen caps the history list; 0 keeps only the latest record.
	MaxLen     int64 `json:"max_len"`
	TTLSeconds int   `json:"ttl_seconds,omitempty"`
}

type OutputConfig struct {
	Type  string       `json:"type"`
	Path  string       `json:"path,omitempty"`
	MQTT  *MQTTConfig  `json:"mqtt,omitempty"`
	Redis *RedisConfig `json:"redis,omitempty"`
}

type HX711Config struct {
	DataPin  string `json:"data_pin"`
	ClockPin string `json:"clock_pin"`
	Channel  string `json:"channel"`
	Gain     int    `json:"gain"`
}

type NAU7802Config struct {
	I2CBus     string `json:"i2c_bus"`
	I2CAddress int    `json:"i2c_address"`
	Channel    int    `json:"channel"`
	Gain       int    `json:"gain"`
	SampleRate int    `json:"sample_rate"`
}

type WeightConfig struct {
	Frontend  string        `json:"frontend"`
	Samples   int           `json:"samples"`
	TimeoutMs int           `json:"timeout_ms"`
	Offset    int64         `json:"offset"`
	Ratio     float64       `json:"ratio"`
	HX711     HX711Config   `json:"hx711"`
	NAU7802   NAU7802Config `json:"nau7802"`
}

// Timeout bounds the wait for a single conversion.
func (w WeightConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// Model is the calibration in use.
func (w WeightConfig) Model() calibration.Model {
	return calibration.Model{Offset: w.Offset, Ratio: w.Ratio}
}

type EnvironmentConfig struct {
	I2CBus     string `json:"i2c_bus"`
	I2CAddress int    `json:"i2c_address"`
}

type PowerConfig struct {
	Port            string `json:"port"`
	BaudRate        int    `json:"baud_rate"`
	SlaveID         int    `json:"slave_id"`
	TimeoutMs       int    `json:"timeout_ms"`
	AlarmThresholdW int    `json:"alarm_threshold_w"`
}

func (p PowerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

type MetricsConfig struct {
	Listen string `json:"listen"`
}

type Config struct {
	SensorType     string            `json:"sensor_type"`
	IntervalMs     int               `json:"interval_ms"`
	Iterations     int               `json:"iterations"`
	FlushEvery     int               `json:"flush_every"`
	CalibrationLog string            `json:"calibration_log"`
	Weight         WeightConfig      `json:"weight"`
	Environment    EnvironmentConfig `json:"environment"`
	Power          PowerConfig       `json:"power"`
	Outputs        []OutputConfig    `json:"outputs"`
	Metrics        MetricsConfig     `json:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		SensorType:     SensorReal,
		IntervalMs:     2000,
		Iterations:     0,
		FlushEvery:     1,
		CalibrationLog: "nau_calibrate.csv",
		Weight: WeightConfig{
			Frontend:  FrontendHX711,
			Samples:   45,
			TimeoutMs: 1000,
			Offset:    -4143700,
			// 105.52 counts per gram on the deployed HX711 at gain 64
			Ratio:     1 / 105.521408839779,
			HX711:     HX711Config{DataPin: "GPIO3", ClockPin: "GPIO2", Channel: "A", Gain: 64},
			NAU7802:   NAU7802Config{I2CBus: "1", I2CAddress: 0x2A, Channel: 1, Gain: 128, SampleRate: 10},
		},
		Environment: EnvironmentConfig{I2CBus: "10", I2CAddress: 0x40},
		Power: PowerConfig{
			Port:            "/dev/ttyS0",
			BaudRate:        9600,
			SlaveID:         1,
			TimeoutMs:       2000,
			AlarmThresholdW: 50000,
		},
		Outputs: []OutputConfig{{Type: OutputConsole}},
	}
}

// Simulated reports whether fake transports should be used.
func (c Config) Simulated() bool {
	return strings.EqualFold(c.SensorType, SensorSimulation)
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Load reads the JSON file at path over DefaultConfig. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, pkgerrors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, pkgerrors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Validate checks the values the acquisition loop depends on.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.SensorType) {
	case SensorReal, SensorSimulation:
	default:
		errs = append(errs, fmt.Errorf("sensor_type must be %s or %s, got %q", SensorReal, SensorSimulation, c.SensorType))
	}
	switch strings.ToLower(c.Weight.Frontend) {
	case FrontendHX711:
	case FrontendNAU7802:
		errs = append(errs, c.Weight.NAU7802.validate()...)
	default:
		errs = append(errs, fmt.Errorf("weight.frontend must be %s or %s, got %q", FrontendHX711, FrontendNAU7802, c.Weight.Frontend))
	}
	if err := c.Weight.Model().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("weight.ratio: %w", err))
	}
	if c.Weight.Samples <= 0 {
		errs = append(errs, errors.New("weight.samples must be > 0"))
	}
	if c.Weight.TimeoutMs <= 0 {
		errs = append(errs, errors.New("weight.timeout_ms must be > 0"))
	}
	if c.IntervalMs < 0 {
		errs = append(errs, errors.New("interval_ms must be >= 0"))
	}
	if c.Iterations < 0 {
		errs = append(errs, errors.New("iterations must be >= 0"))
	}
	if c.FlushEvery < 0 {
		errs = append(errs, errors.New("flush_every must be >= 0"))
	}
	if c.Power.AlarmThresholdW < 0 || c.Power.AlarmThresholdW > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("power.alarm_threshold_w must be within 0..%d", math.MaxUint16))
	}
	if c.Power.TimeoutMs <= 0 {
		errs = append(errs, errors.New("power.timeout_ms must be > 0"))
	}
	for i, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case OutputConsole, OutputMQTT, OutputRedis:
		case OutputCSV:
			if o.Path == "" {
				errs = append(errs, fmt.Errorf("outputs[%d]: csv output needs a path", i))
			}
		default:
			errs = append(errs, fmt.Errorf("outputs[%d]: unknown type %q", i, o.Type))
		}
	}
	return errors.Join(errs...)
}

func (n NAU7802Config) validate() []error {
	var errs []error
	switch n.Gain {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		errs = append(errs, fmt.Errorf("weight.nau7802.gain must be a power of two in 1..128, got %d", n.Gain))
	}
	switch n.SampleRate {
	case 10, 20, 40, 80, 320:
	default:
		errs = append(errs, fmt.Errorf("weight.nau7802.sample_rate must be 10, 20, 40, 80 or 320, got %d", n.SampleRate))
	}
	if n.Channel != 1 && n.Channel != 2 {
		errs = append(errs, fmt.Errorf("weight.nau7802.channel must be 1 or 2, got %d", n.Channel))
	}
	return errs
}

// Overrides holds command-line values that take precedence over the file.
type Overrides struct {
	sensorType     *string
	frontend       *string
	samples        *int
	weightTimeout  *int
	offset         *string
	ratio          *float64
	hxDataPin      *string
	hxClockPin     *string
	nauBus         *string
	nauAddress     *string
	envBus         *string
	envAddress     *string
	powerPort      *string
	alarmThreshold *int
	interval       *int
	iterations     *int
	flushEvery     *int
	outputs        *string
	csvPath        *string
	mqttServer     *string
	mqttUser       *string
	mqttPass       *string
	mqttClientID   *string
	mqttTopic      *string
	redisAddr      *string
	metricsListen  *string
	calibrationLog *string
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) *Overrides {
	return &Overrides{
		sensorType:     fs.String("sensor-type", "", "sensor type: real|simulation"),
		frontend:       fs.String("frontend", "", "load-cell front-end: hx711|nau7802"),
		samples:        fs.Int("samples", -1, "raw conversions averaged per weight reading"),
		weightTimeout:  fs.Int("weight-timeout-ms", -1, "wait limit for one load-cell conversion"),
		offset:         fs.String("offset", "", "calibration offset in raw counts (decimal or 0x hex)"),
		ratio:          fs.Float64("ratio", math.NaN(), "calibration ratio in grams per raw count"),
		hxDataPin:      fs.String("hx711-data-pin", "", "HX711 data GPIO (e.g. GPIO3)"),
		hxClockPin:     fs.String("hx711-clock-pin", "", "HX711 clock GPIO (e.g. GPIO2)"),
		nauBus:         fs.String("nau7802-i2c-bus", "", "NAU7802 I2C bus"),
		nauAddress:     fs.String("nau7802-i2c-address", "", "NAU7802 I2C address (decimal or 0x hex)"),
		envBus:         fs.String("env-i2c-bus", "", "Si7021 I2C bus (e.g. '10' -> /dev/i2c-10)"),
		envAddress:     fs.String("env-i2c-address", "", "Si7021 I2C address (decimal or 0x hex)"),
		powerPort:      fs.String("power-port", "", "PZEM-004T serial port"),
		alarmThreshold: fs.Int("alarm-threshold", -1, "power alarm threshold in watts"),
		interval:       fs.Int("interval-ms", -1, "pause between acquisition ticks in ms"),
		iterations:     fs.Int("iterations", -1, "number of ticks, 0 runs until interrupted"),
		flushEvery:     fs.Int("flush-every", -1, "hand records to outputs every N ticks, 0 only on stop"),
		outputs:        fs.String("outputs", "", "Comma-separated outputs (console,csv,mqtt,redis)"),
		csvPath:        fs.String("csv-path", "", "CSV output file"),
		mqttServer:     fs.String("mqtt-server", "", "MQTT server (tcp://host:port)"),
		mqttUser:       fs.String("mqtt-user", "", "MQTT username"),
		mqttPass:       fs.String("mqtt-pass", "", "MQTT password"),
		mqttClientID:   fs.String("mqtt-client-id", "", "MQTT client id"),
		mqttTopic:      fs.String("mqtt-topic", "", "MQTT topic"),
		redisAddr:      fs.String("redis-addr", "", "Redis address (host:port)"),
		metricsListen:  fs.String("metrics-listen", "", "Prometheus listen address (e.g. :9100)"),
		calibrationLog: fs.String("calibration-log", "", "calibration history CSV"),
	}
}

// Apply copies every flag that was set onto cfg.
func (o *Overrides) Apply(cfg *Config) error {
	setString(&cfg.SensorType, *o.sensorType)
	setString(&cfg.Weight.Frontend, *o.frontend)
	setInt(&cfg.Weight.Samples, *o.samples)
	setInt(&cfg.Weight.TimeoutMs, *o.weightTimeout)
	if *o.offset != "" {
		v, err := parseIntOrHex(*o.offset)
		if err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		cfg.Weight.Offset = v
	}
	if !math.IsNaN(*o.ratio) {
		cfg.Weight.Ratio = *o.ratio
	}
	setString(&cfg.Weight.HX711.DataPin, *o.hxDataPin)
	setString(&cfg.Weight.HX711.ClockPin, *o.hxClockPin)
	setString(&cfg.Weight.NAU7802.I2CBus, *o.nauBus)
	if err := setAddress(&cfg.Weight.NAU7802.I2CAddress, *o.nauAddress); err != nil {
		return fmt.Errorf("nau7802-i2c-address: %w", err)
	}
	setString(&cfg.Environment.I2CBus, *o.envBus)
	if err := setAddress(&cfg.Environment.I2CAddress, *o.envAddress); err != nil {
		return fmt.Errorf("env-i2c-address: %w", err)
	}
	setString(&cfg.Power.Port, *o.powerPort)
	setInt(&cfg.Power.AlarmThresholdW, *o.alarmThreshold)
	setInt(&cfg.IntervalMs, *o.interval)
	setInt(&cfg.Iterations, *o.iterations)
	setInt(&cfg.FlushEvery, *o.flushEvery)
	setString(&cfg.Metrics.Listen, *o.metricsListen)
	setString(&cfg.CalibrationLog, *o.calibrationLog)

	if *o.outputs != "" {
		parts := parseCSV(*o.outputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if *o.csvPath != "" {
		out := cfg.output(OutputCSV)
		out.Path = *o.csvPath
	}
	if *o.mqttServer != "" || *o.mqttUser != "" || *o.mqttPass != "" || *o.mqttClientID != "" || *o.mqttTopic != "" {
		out := cfg.output(OutputMQTT)
		if out.MQTT == nil {
			out.MQTT = &MQTTConfig{}
		}
		setString(&out.MQTT.Server, *o.mqttServer)
		setString(&out.MQTT.Username, *o.mqttUser)
		setString(&out.MQTT.Password, *o.mqttPass)
		setString(&out.MQTT.ClientID, *o.mqttClientID)
		setString(&out.MQTT.Topic, *o.mqttTopic)
	}
	if *o.redisAddr != "" {
		out := cfg.output(OutputRedis)
		if out.Redis == nil {
			out.Redis = &RedisConfig{}
		}
		out.Redis.Addr = *o.redisAddr
	}
	return nil
}

// output returns the first output of type t, creating one if missing.
func (c *Config) output(t string) *OutputConfig {
	for i := range c.Outputs {
		if strings.EqualFold(c.Outputs[i].Type, t) {
			return &c.Outputs[i]
		}
	}
	c.Outputs = append(c.Outputs, OutputConfig{Type: t})
	return &c.Outputs[len(c.Outputs)-1]
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != -1 {
		*dst = v
	}
}

func setAddress(dst *int, s string) error {
	if s == "" {
		return nil
	}
	v, err := parseIntOrHex(s)
	if err != nil {
		return err
	}
	*dst = int(v)
	return nil
}

func parseIntOrHex(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	t := strings.TrimPrefix(s, "-")
	var v int64
	var err error
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		v, err = strconv.ParseInt(t[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(t, 10, 64)
	}
	if neg {
		v = -v
	}
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
