package sensor

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"

	"github.com/ericogr/drip/pkg/config"
)

const (
	siCmdMeasureRH  = 0xE5 // hold master
	siCmdTempFromRH = 0xE0
	siCmdReset      = 0xFE
	siResetDelay    = 50 * time.Millisecond
	siCRCPolynomial = 0x31
)

// Si7021 is a temperature and humidity sensor on I2C.
type Si7021 struct {
	dev registerBus
	bus i2c.BusCloser
}

// NewSi7021 opens and resets the sensor.
func NewSi7021(cfg config.EnvironmentConfig) (EnvironmentTransport, error) {
	dev, bus, err := openI2C(cfg.I2CBus, cfg.I2CAddress)
	if err != nil {
		return nil, err
	}
	if err := dev.Tx([]byte{siCmdReset}, nil); err != nil {
		_ = bus.Close()
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "si7021 reset: %v", err)
	}
	time.Sleep(siResetDelay)
	return &Si7021{dev: dev, bus: bus}, nil
}

func (s *Si7021) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// Read measures humidity and then fetches the temperature taken during the
// same conversion.
func (s *Si7021) Read(_ context.Context) (Environment, error) {
	var env Environment
	rh := make([]byte, 3)
	if err := s.dev.Tx([]byte{siCmdMeasureRH}, rh); err != nil {
		return env, pkgerrors.Wrapf(ErrTransportUnavailable, "si7021 humidity: %v", err)
	}
	if crc8(rh[:2]) != rh[2] {
		return env, pkgerrors.Wrapf(ErrProtocolFraming, "si7021 humidity checksum % X", rh)
	}
	temp := make([]byte, 2)
	if err := s.dev.Tx([]byte{siCmdTempFromRH}, temp); err != nil {
		return env, pkgerrors.Wrapf(ErrTransportUnavailable, "si7021 temperature: %v", err)
	}
	env.Humidity = siHumidity(uint16(rh[0])<<8 | uint16(rh[1]))
	env.Temperature = siTemperature(uint16(temp[0])<<8 | uint16(temp[1]))
	return env, nil
}

func siHumidity(code uint16) float64 {
	h := 125*float64(code)/65536 - 6
	switch {
	case h < 0:
		return 0
	case h > 100:
		return 100
	}
	return h
}

func siTemperature(code uint16) float64 {
	return 175.72*float64(code)/65536 - 46.85
}

// crc8 is the Si70xx checksum (x^8 + x^5 + x^4 + 1, init 0).
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ siCRCPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
