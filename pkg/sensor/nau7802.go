package sensor

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"

	"github.com/ericogr/drip/pkg/config"
)

const (
	nauRegPUCtrl = 0x00
	nauRegCtrl1  = 0x01
	nauRegCtrl2  = 0x02
	nauRegADCO   = 0x12
	nauRegADC    = 0x15
	nauRegPGAPwr = 0x1C

	// PU_CTRL bits
	nauRR    = 1 << 0
	nauPUD   = 1 << 1
	nauPUA   = 1 << 2
	nauPUR   = 1 << 3
	nauCS    = 1 << 4
	nauCR    = 1 << 5
	nauAVDDS = 1 << 7

	// CTRL2 bits
	nauCalMod = 0x03
	nauCALS   = 1 << 2
	nauCalErr = 1 << 3
	nauCRS    = 0x07 << 4
	nauCHS    = 1 << 7
)

// NAU7802 is a 24 bit load-cell ADC on I2C.
type NAU7802 struct {
	dev     registerBus
	bus     i2c.BusCloser
	channel int
	gain    int
	rate    int
	timeout time.Duration
}

// NewNAU7802 opens the device, powers it up and runs the internal offset
// calibration.
func NewNAU7802(cfg config.WeightConfig) (WeightTransport, error) {
	dev, bus, err := openI2C(cfg.NAU7802.I2CBus, cfg.NAU7802.I2CAddress)
	if err != nil {
		return nil, err
	}
	n := &NAU7802{
		dev:     dev,
		bus:     bus,
		channel: cfg.NAU7802.Channel,
		gain:    cfg.NAU7802.Gain,
		rate:    cfg.NAU7802.SampleRate,
		timeout: cfg.Timeout(),
	}
	if err := n.init(context.Background()); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return n, nil
}

func (n *NAU7802) Close() error {
	if n.bus != nil {
		return n.bus.Close()
	}
	return nil
}

func (n *NAU7802) init(ctx context.Context) error {
	ctrl1, ctrl2, err := nauControlBytes(n.gain, n.rate, n.channel)
	if err != nil {
		return err
	}
	// reset, then power up the digital side
	if err := writeReg(n.dev, nauRegPUCtrl, nauRR); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	if err := writeReg(n.dev, nauRegPUCtrl, nauPUD); err != nil {
		return err
	}
	err = waitFor(ctx, 200*time.Millisecond, "nau7802 power-up", func() (bool, error) {
		v, err := readReg(n.dev, nauRegPUCtrl)
		return v&nauPUR != 0, err
	})
	if err != nil {
		return err
	}
	// analog power, internal LDO
	if err := updateReg(n.dev, nauRegPUCtrl, nauPUA|nauAVDDS, nauPUA|nauAVDDS); err != nil {
		return err
	}
	if err := writeReg(n.dev, nauRegCtrl1, ctrl1); err != nil {
		return err
	}
	if err := writeReg(n.dev, nauRegCtrl2, ctrl2); err != nil {
		return err
	}
	// disable the clock chopper and enable the PGA output capacitor
	if err := updateReg(n.dev, nauRegADC, 0x30, 0x30); err != nil {
		return err
	}
	if err := updateReg(n.dev, nauRegPGAPwr, 0x80, 0x80); err != nil {
		return err
	}
	if err := updateReg(n.dev, nauRegPUCtrl, nauCS, nauCS); err != nil {
		return err
	}
	return n.calibrate(ctx)
}

// calibrate runs the internal offset calibration for the selected channel.
func (n *NAU7802) calibrate(ctx context.Context) error {
	if err := updateReg(n.dev, nauRegCtrl2, nauCalMod|nauCALS, nauCALS); err != nil {
		return err
	}
	err := waitFor(ctx, time.Second, "nau7802 calibration", func() (bool, error) {
		v, err := readReg(n.dev, nauRegCtrl2)
		return v&nauCALS == 0, err
	})
	if err != nil {
		return err
	}
	v, err := readReg(n.dev, nauRegCtrl2)
	if err != nil {
		return err
	}
	if v&nauCalErr != 0 {
		return pkgerrors.Wrap(ErrTransportUnavailable, "nau7802 internal calibration failed")
	}
	return nil
}

func (n *NAU7802) ReadRaw(ctx context.Context, samples int) (int64, error) {
	return average(ctx, samples, n.readOne)
}

func (n *NAU7802) readOne(ctx context.Context) (int32, error) {
	err := waitFor(ctx, n.timeout, "nau7802 conversion", func() (bool, error) {
		v, err := readReg(n.dev, nauRegPUCtrl)
		return v&nauCR != 0, err
	})
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 3)
	if err := n.dev.Tx([]byte{nauRegADCO}, buf); err != nil {
		return 0, pkgerrors.Wrapf(ErrTransportUnavailable, "read conversion: %v", err)
	}
	return signExtend24(uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])), nil
}

// nauControlBytes builds CTRL1 (LDO 3.3V, gain) and CTRL2 (conversion rate,
// channel) for the given settings.
func nauControlBytes(gain, rate, channel int) (byte, byte, error) {
	var gains byte
	switch gain {
	case 1:
		gains = 0x0
	case 2:
		gains = 0x1
	case 4:
		gains = 0x2
	case 8:
		gains = 0x3
	case 16:
		gains = 0x4
	case 32:
		gains = 0x5
	case 64:
		gains = 0x6
	case 128:
		gains = 0x7
	default:
		return 0, 0, pkgerrors.Errorf("invalid nau7802 gain %d", gain)
	}
	var crs byte
	switch rate {
	case 10:
		crs = 0x0
	case 20:
		crs = 0x1
	case 40:
		crs = 0x2
	case 80:
		crs = 0x3
	case 320:
		crs = 0x7
	default:
		return 0, 0, pkgerrors.Errorf("invalid nau7802 sample rate %d", rate)
	}
	var chs byte
	switch channel {
	case 1:
		chs = 0
	case 2:
		chs = nauCHS
	default:
		return 0, 0, pkgerrors.Errorf("invalid nau7802 channel %d", channel)
	}
	const vldo33 = 0x4
	ctrl1 := byte(vldo33<<3) | gains
	ctrl2 := crs<<4&nauCRS | chs
	return ctrl1, ctrl2, nil
}
