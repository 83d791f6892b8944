package sensor

import (
	"context"
	"errors"

	"github.com/ericogr/drip/pkg/power"
)

var (
	// ErrTransportTimeout: a conversion did not become ready in time.
	ErrTransportTimeout = errors.New("transport timeout")
	// ErrTransportUnavailable: the device or bus is gone. Not retryable.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrProtocolTimeout: the power meter did not answer in time.
	ErrProtocolTimeout = errors.New("protocol timeout")
	// ErrProtocolFraming: a response was malformed.
	ErrProtocolFraming = errors.New("protocol framing error")
)

// IsFatal reports whether err means the transport can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}

// Environment is a temperature and relative humidity measurement.
type Environment struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
}

// WeightTransport reads raw counts from a load-cell ADC.
type WeightTransport interface {
	// ReadRaw averages samples consecutive conversions. Each conversion is
	// bounded by the transport's timeout.
	ReadRaw(ctx context.Context, samples int) (int64, error)
	Close() error
}

// EnvironmentTransport reads a temperature/humidity sensor.
type EnvironmentTransport interface {
	Read(ctx context.Context) (Environment, error)
	Close() error
}

// PowerTransport talks to the power meter.
type PowerTransport interface {
	ReadFrame(ctx context.Context) (power.Frame, error)
	SetAlarmThreshold(ctx context.Context, watts int) error
	Close() error
}

// EnergyResetter is implemented by power transports that can clear the
// energy counter.
type EnergyResetter interface {
	ResetEnergy(ctx context.Context) error
}
