package sensor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/power"
)

// FakeWeight simulates a load cell under a slowly filling water tank.
type FakeWeight struct {
	offset float64
	ratio  float64
	grams  float64
	mu     sync.Mutex
}

func NewFakeWeight(cfg config.WeightConfig) (WeightTransport, error) {
	return &FakeWeight{offset: float64(cfg.Offset), ratio: cfg.Ratio, grams: 400}, nil
}

func (f *FakeWeight) ReadRaw(_ context.Context, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grams += rand.Float64() * 2
	noise := rand.NormFloat64() * 3
	return int64(f.offset + f.grams/f.ratio + noise), nil
}

func (f *FakeWeight) Close() error { return nil }

// FakeEnvironment simulates a humid room being dried.
type FakeEnvironment struct {
	humidity float64
	mu       sync.Mutex
}

func NewFakeEnvironment(config.EnvironmentConfig) (EnvironmentTransport, error) {
	return &FakeEnvironment{humidity: 70}, nil
}

func (f *FakeEnvironment) Read(_ context.Context) (Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.humidity > 35 {
		f.humidity -= rand.Float64() * 0.2
	}
	return Environment{Temperature: 22 + rand.Float64(), Humidity: f.humidity}, nil
}

func (f *FakeEnvironment) Close() error { return nil }

// FakePower simulates a dehumidifier drawing around 200 W.
type FakePower struct {
	threshold uint16
	energy    uint32
	mu        sync.Mutex
}

func NewFakePower(config.PowerConfig) (PowerTransport, error) {
	return &FakePower{threshold: 0xFFFF}, nil
}

func (f *FakePower) ReadFrame(_ context.Context) (power.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	voltage := uint16(2300 + rand.Intn(40) - 20)
	current := uint32(900 + rand.Intn(100))
	watts := uint32(float64(voltage) * float64(current) * 0.95 / 1000)
	f.energy++
	var alarm uint16
	if watts/10 > uint32(f.threshold) {
		alarm = 0xFFFF
	}
	return power.Frame{
		voltage,
		uint16(current), uint16(current >> 16),
		uint16(watts), uint16(watts >> 16),
		uint16(f.energy), uint16(f.energy >> 16),
		500 + uint16(rand.Intn(3)),
		95,
		alarm,
	}, nil
}

func (f *FakePower) SetAlarmThreshold(_ context.Context, watts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = uint16(watts)
	return nil
}

func (f *FakePower) ResetEnergy(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.energy = 0
	return nil
}

func (f *FakePower) Close() error { return nil }
