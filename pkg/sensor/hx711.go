package sensor

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/ericogr/drip/pkg/config"
)

type clockPin interface {
	Out(l gpio.Level) error
}

type dataPin interface {
	Read() gpio.Level
}

// HX711 is a 24 bit load-cell ADC driven by bit-banging two GPIO pins.
type HX711 struct {
	clk     clockPin
	data    dataPin
	pulses  int
	timeout time.Duration
}

// NewHX711 configures the pins, resets the chip and selects the gain.
func NewHX711(cfg config.WeightConfig) (WeightTransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "host init: %v", err)
	}
	clk := gpioreg.ByName(cfg.HX711.ClockPin)
	if clk == nil {
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 clock pin %q not found", cfg.HX711.ClockPin)
	}
	data := gpioreg.ByName(cfg.HX711.DataPin)
	if data == nil {
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 data pin %q not found", cfg.HX711.DataPin)
	}
	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 data pin: %v", err)
	}
	pulses, err := hxGainPulses(cfg.HX711.Gain, cfg.HX711.Channel)
	if err != nil {
		return nil, err
	}
	h := &HX711{clk: clk, data: data, pulses: pulses, timeout: cfg.Timeout()}
	if err := h.reset(context.Background()); err != nil {
		return nil, err
	}
	return h, nil
}

// hxGainPulses returns the number of extra clock pulses that select the
// channel and gain of the next conversion.
func hxGainPulses(gain int, channel string) (int, error) {
	switch {
	case channel == "A" && gain == 128:
		return 1, nil
	case channel == "B" && gain == 32:
		return 2, nil
	case channel == "A" && gain == 64:
		return 3, nil
	}
	return 0, fmt.Errorf("invalid hx711 channel %s gain %d", channel, gain)
}

// reset powers the chip down and up, then discards one conversion so the
// gain selection applies to the next one.
func (h *HX711) reset(ctx context.Context) error {
	if err := h.clk.Out(gpio.High); err != nil {
		return pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 clock: %v", err)
	}
	time.Sleep(100 * time.Microsecond)
	if err := h.clk.Out(gpio.Low); err != nil {
		return pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 clock: %v", err)
	}
	_, err := h.readOne(ctx)
	return err
}

func (h *HX711) Close() error {
	// leave the chip powered down
	return h.clk.Out(gpio.High)
}

func (h *HX711) ReadRaw(ctx context.Context, samples int) (int64, error) {
	return average(ctx, samples, h.readOne)
}

func (h *HX711) readOne(ctx context.Context) (int32, error) {
	err := waitFor(ctx, h.timeout, "hx711 conversion", func() (bool, error) {
		return h.data.Read() == gpio.Low, nil
	})
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := 0; i < 24; i++ {
		if err := h.pulse(); err != nil {
			return 0, err
		}
		v <<= 1
		if h.data.Read() == gpio.High {
			v |= 1
		}
	}
	for i := 0; i < h.pulses; i++ {
		if err := h.pulse(); err != nil {
			return 0, err
		}
	}
	return signExtend24(v), nil
}

func (h *HX711) pulse() error {
	if err := h.clk.Out(gpio.High); err != nil {
		return pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 clock: %v", err)
	}
	if err := h.clk.Out(gpio.Low); err != nil {
		return pkgerrors.Wrapf(ErrTransportUnavailable, "hx711 clock: %v", err)
	}
	return nil
}
