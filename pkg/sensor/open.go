package sensor

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/drip/pkg/config"
)

// Set holds one transport per sensor class.
type Set struct {
	Weight      WeightTransport
	Environment EnvironmentTransport
	Power       PowerTransport
}

// NewWeightTransport returns the load-cell front-end selected by cfg.
func NewWeightTransport(cfg config.Config) (WeightTransport, error) {
	if cfg.Simulated() {
		return NewFakeWeight(cfg.Weight)
	}
	switch strings.ToLower(cfg.Weight.Frontend) {
	case config.FrontendHX711:
		return NewHX711(cfg.Weight)
	case config.FrontendNAU7802:
		return NewNAU7802(cfg.Weight)
	}
	return nil, fmt.Errorf("unknown weight frontend %q", cfg.Weight.Frontend)
}

func NewEnvironmentTransport(cfg config.Config) (EnvironmentTransport, error) {
	if cfg.Simulated() {
		return NewFakeEnvironment(cfg.Environment)
	}
	return NewSi7021(cfg.Environment)
}

func NewPowerTransport(cfg config.Config) (PowerTransport, error) {
	if cfg.Simulated() {
		return NewFakePower(cfg.Power)
	}
	return NewPZEM(cfg.Power)
}

// Open opens all three transports. On failure the ones already opened are
// closed again.
func Open(cfg config.Config) (*Set, error) {
	s := &Set{}
	var err error
	if s.Weight, err = NewWeightTransport(cfg); err != nil {
		return nil, fmt.Errorf("weight: %w", err)
	}
	logrus.WithFields(logrus.Fields{"frontend": cfg.Weight.Frontend, "simulated": cfg.Simulated()}).Info("weight transport ready")
	if s.Environment, err = NewEnvironmentTransport(cfg); err != nil {
		s.Close()
		return nil, fmt.Errorf("environment: %w", err)
	}
	logrus.WithField("i2c_bus", cfg.Environment.I2CBus).Info("environment transport ready")
	if s.Power, err = NewPowerTransport(cfg); err != nil {
		s.Close()
		return nil, fmt.Errorf("power: %w", err)
	}
	logrus.WithField("port", cfg.Power.Port).Info("power transport ready")
	return s, nil
}

// Close closes every open transport and returns the first error.
func (s *Set) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if s.Weight != nil {
		keep(s.Weight.Close())
	}
	if s.Environment != nil {
		keep(s.Environment.Close())
	}
	if s.Power != nil {
		keep(s.Power.Close())
	}
	return first
}
