// Package power decodes PZEM-004T v3 input registers.
package power

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameRegisters is the number of input registers read in one request,
// starting at address 0.
const FrameRegisters = 10

// ErrFrameLength is returned for a register payload of the wrong size.
var ErrFrameLength = errors.New("power frame: wrong payload length")

// Frame holds the raw input registers in device order:
//
//	0    voltage, 0.1 V
//	1-2  current, 0.001 A (low, high)
//	3-4  power, 0.1 W (low, high)
//	5-6  energy, 1 Wh (low, high)
//	7    frequency, 0.1 Hz
//	8    power factor, 0.01
//	9    alarm status, 0xFFFF when on
type Frame [FrameRegisters]uint16

// Reading is a decoded frame.
type Reading struct {
	Voltage     float64 `json:"voltage_v"`
	Current     float64 `json:"current_a"`
	Power       float64 `json:"power_w"`
	Energy      uint32  `json:"energy_wh"`
	Frequency   float64 `json:"frequency_hz"`
	PowerFactor float64 `json:"power_factor"`
	// Threshold is the alarm threshold last written to the meter, not a
	// register value.
	Threshold int  `json:"alarm_threshold_w"`
	Alarm     bool `json:"alarm_active"`
}

// pair joins a low and a high register into one 32 bit value.
func pair(low, high uint16) uint32 {
	return uint32(low) | uint32(high)<<16
}

// Decode converts f into physical units.
func Decode(f Frame, thresholdW int) Reading {
	return Reading{
		Voltage:     float64(f[0]) / 10,
		Current:     float64(pair(f[1], f[2])) / 1000,
		Power:       float64(pair(f[3], f[4])) / 10,
		Energy:      pair(f[5], f[6]),
		Frequency:   float64(f[7]) / 10,
		PowerFactor: float64(f[8]) / 100,
		Threshold:   thresholdW,
		Alarm:       f[9] != 0,
	}
}

// FrameFromBytes converts a Modbus register payload (big-endian, two bytes
// per register) into a Frame.
func FrameFromBytes(b []byte) (Frame, error) {
	var f Frame
	if len(b) != 2*FrameRegisters {
		return f, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(b), 2*FrameRegisters)
	}
	for i := range f {
		f[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return f, nil
}

// Bytes is the inverse of FrameFromBytes.
func (f Frame) Bytes() []byte {
	b := make([]byte, 2*FrameRegisters)
	for i, r := range f {
		binary.BigEndian.PutUint16(b[2*i:], r)
	}
	return b
}
