package acquisition

import (
	"time"
)

// Source names a sensor class in a record.
type Source string

const (
	SourceWeight      Source = "weight"
	SourceEnvironment Source = "environment"
	SourcePower       Source = "power"
)

// Fault marks the fields of a record that could not be read.
type Fault struct {
	Source Source `json:"source"`
	Error  string `json:"error"`
	Fatal  bool   `json:"fatal,omitempty"`
}

// Record is one tick's merged reading from all sensors.
type Record struct {
	RunID       string    `json:"run_id"`
	Tick        int       `json:"tick"`
	Timestamp   time.Time `json:"timestamp"`
	Grams       float64   `json:"grams"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	Voltage     float64   `json:"voltage_v"`
	Current     float64   `json:"current_a"`
	Power       float64   `json:"power_w"`
	Energy      uint32    `json:"energy_wh"`
	Frequency   float64   `json:"frequency_hz"`
	PowerFactor float64   `json:"power_factor"`
	Threshold   int       `json:"alarm_threshold_w"`
	Alarm       bool      `json:"alarm_active"`
	Faults      []Fault   `json:"faults,omitempty"`
}

// Partial reports whether any sensor failed during the tick.
func (r Record) Partial() bool {
	return len(r.Faults) > 0
}

// Failed reports whether the fields of s are missing.
func (r Record) Failed(s Source) bool {
	for _, f := range r.Faults {
		if f.Source == s {
			return true
		}
	}
	return false
}

// Sink receives batches of finished records. The slice is handed over and
// not touched by the loop afterwards.
type Sink interface {
	Publish([]Record) error
}
