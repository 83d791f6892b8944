package sensor

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/goburrow/modbus"
	pkgerrors "github.com/pkg/errors"

	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/power"
)

const (
	pzemRegAlarmThreshold = 0x0001
	pzemFuncResetEnergy   = 0x42
)

// registerClient is the part of modbus.Client the meter driver uses.
type registerClient interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// PZEM is a PZEM-004T v3 power meter on a Modbus RTU serial line.
type PZEM struct {
	client registerClient
	closer io.Closer
	reset  func() error
}

// NewPZEM opens the serial port. Line settings are fixed by the meter
// (8N1); baud rate, slave id and response timeout come from cfg.
func NewPZEM(cfg config.PowerConfig) (PowerTransport, error) {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = byte(cfg.SlaveID)
	handler.Timeout = cfg.Timeout()
	if err := handler.Connect(); err != nil {
		return nil, pkgerrors.Wrapf(ErrTransportUnavailable, "open %s: %v", cfg.Port, err)
	}
	return &PZEM{
		client: modbus.NewClient(handler),
		closer: handler,
		reset:  func() error { return sendResetEnergy(handler) },
	}, nil
}

func (p *PZEM) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

func (p *PZEM) ReadFrame(_ context.Context) (power.Frame, error) {
	b, err := p.client.ReadInputRegisters(0, power.FrameRegisters)
	if err != nil {
		return power.Frame{}, classifyModbus(err, "read input registers")
	}
	f, err := power.FrameFromBytes(b)
	if err != nil {
		return f, pkgerrors.Wrap(ErrProtocolFraming, err.Error())
	}
	return f, nil
}

func (p *PZEM) SetAlarmThreshold(_ context.Context, watts int) error {
	if watts < 0 || watts > 0xFFFF {
		return pkgerrors.Errorf("alarm threshold %d W out of range", watts)
	}
	if _, err := p.client.WriteSingleRegister(pzemRegAlarmThreshold, uint16(watts)); err != nil {
		return classifyModbus(err, "write alarm threshold")
	}
	return nil
}

// ResetEnergy clears the meter's energy counter.
func (p *PZEM) ResetEnergy(_ context.Context) error {
	if p.reset == nil {
		return errors.New("energy reset not supported")
	}
	if err := p.reset(); err != nil {
		return classifyModbus(err, "reset energy")
	}
	return nil
}

// sendResetEnergy sends the vendor specific reset command, which has no data
// and is answered with an echo of the function code.
func sendResetEnergy(h *modbus.RTUClientHandler) error {
	req, err := h.Encode(&modbus.ProtocolDataUnit{FunctionCode: pzemFuncResetEnergy})
	if err != nil {
		return err
	}
	resp, err := h.Send(req)
	if err != nil {
		return err
	}
	if err := h.Verify(req, resp); err != nil {
		return err
	}
	pdu, err := h.Decode(resp)
	if err != nil {
		return err
	}
	if pdu.FunctionCode != pzemFuncResetEnergy {
		return &modbus.ModbusError{FunctionCode: pdu.FunctionCode, ExceptionCode: firstByte(pdu.Data)}
	}
	return nil
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

type timeout interface {
	Timeout() bool
}

// classifyModbus maps serial and modbus errors onto the transport errors.
func classifyModbus(err error, op string) error {
	var mbErr *modbus.ModbusError
	var errno syscall.Errno
	var t timeout
	switch {
	case errors.As(err, &mbErr):
		return pkgerrors.Wrapf(ErrProtocolFraming, "%s: %v", op, err)
	case errors.As(err, &t) && t.Timeout(), strings.Contains(err.Error(), "timeout"):
		return pkgerrors.Wrapf(ErrProtocolTimeout, "%s: %v", op, err)
	case errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return pkgerrors.Wrapf(ErrTransportUnavailable, "%s: %v", op, err)
	case errors.As(err, &errno) && (errno == syscall.EIO || errno == syscall.ENXIO || errno == syscall.ENODEV || errno == syscall.EBADF):
		return pkgerrors.Wrapf(ErrTransportUnavailable, "%s: %v", op, err)
	}
	// crc, length and address mismatches
	return pkgerrors.Wrapf(ErrProtocolFraming, "%s: %v", op, err)
}
