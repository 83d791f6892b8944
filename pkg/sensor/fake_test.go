package sensor

import (
	"context"
	"math"
	"testing"

	"github.com/ericogr/drip/pkg/calibration"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/power"
)

func TestOpenSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	set, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer set.Close()

	ctx := context.Background()
	raw, err := set.Weight.ReadRaw(ctx, cfg.Weight.Samples)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	// the simulated tank starts around 400 g
	if g := calibration.Grams(raw, cfg.Weight.Model()); math.Abs(g-400) > 50 {
		t.Fatalf("simulated weight out of range: %v g", g)
	}
	env, err := set.Environment.Read(ctx)
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if env.Humidity < 0 || env.Humidity > 100 {
		t.Fatalf("humidity: %v", env.Humidity)
	}
	if err := set.Power.SetAlarmThreshold(ctx, 100); err != nil {
		t.Fatalf("SetAlarmThreshold: %v", err)
	}
	f, err := set.Power.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := power.Decode(f, 100)
	if r.Voltage < 220 || r.Voltage > 240 || !r.Alarm {
		t.Fatalf("simulated power reading: %+v", r)
	}
	if err := set.Power.(EnergyResetter).ResetEnergy(ctx); err != nil {
		t.Fatalf("ResetEnergy: %v", err)
	}
}

func TestNewWeightTransportUnknownFrontend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Weight.Frontend = "ads1115"
	if _, err := NewWeightTransport(cfg); err == nil {
		t.Fatal("expected error for unknown frontend")
	}
}
