package sensor

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// registerBus is the part of *i2c.Dev the drivers use.
type registerBus interface {
	Tx(w, r []byte) error
}

// openI2C initializes the host drivers and opens a device on the named bus.
func openI2C(busName string, addr int) (*i2c.Dev, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, pkgerrors.Wrapf(ErrTransportUnavailable, "host init: %v", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(ErrTransportUnavailable, "open i2c %q: %v", busName, err)
	}
	return &i2c.Dev{Addr: uint16(addr), Bus: bus}, bus, nil
}

func readReg(b registerBus, reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := b.Tx([]byte{reg}, buf); err != nil {
		return 0, pkgerrors.Wrapf(ErrTransportUnavailable, "read reg 0x%02X: %v", reg, err)
	}
	return buf[0], nil
}

func writeReg(b registerBus, reg, val byte) error {
	if err := b.Tx([]byte{reg, val}, nil); err != nil {
		return pkgerrors.Wrapf(ErrTransportUnavailable, "write reg 0x%02X: %v", reg, err)
	}
	return nil
}

// updateReg sets the bits in mask to val.
func updateReg(b registerBus, reg, mask, val byte) error {
	cur, err := readReg(b, reg)
	if err != nil {
		return err
	}
	return writeReg(b, reg, cur&^mask|val&mask)
}

// pollInterval is how often the drivers check a ready flag.
var pollInterval = time.Millisecond

// waitFor polls ready until it returns true, the timeout elapses or ctx is
// done. A timeout is reported as ErrTransportTimeout.
func waitFor(ctx context.Context, timeout time.Duration, what string, ready func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return pkgerrors.Wrapf(ErrTransportTimeout, "%s not ready after %s", what, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// signExtend24 interprets the low 24 bits of v as two's complement.
func signExtend24(v uint32) int32 {
	v &= 0xFFFFFF
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}

// average reads samples values and returns their mean, truncated toward zero.
func average(ctx context.Context, samples int, read func(context.Context) (int32, error)) (int64, error) {
	if samples < 1 {
		samples = 1
	}
	var sum int64
	for i := 0; i < samples; i++ {
		v, err := read(ctx)
		if err != nil {
			return 0, err
		}
		sum += int64(v)
	}
	return sum / int64(samples), nil
}
