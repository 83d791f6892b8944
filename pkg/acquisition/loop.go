// Package acquisition runs the sampling loop that merges one reading per
// sensor into a Record every tick.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/drip/pkg/calibration"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/metrics"
	"github.com/ericogr/drip/pkg/power"
	"github.com/ericogr/drip/pkg/sensor"
)

// State of a Loop.
type State int

const (
	// Idle is a loop that has not been started.
	Idle State = iota
	// Running is a loop inside Run.
	Running
	// Stopped is a loop whose Run has returned.
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

// Loop polls the sensors at a fixed interval.
type Loop struct {
	Weight      sensor.WeightTransport
	Environment sensor.EnvironmentTransport
	Power       sensor.PowerTransport
	Sink        Sink

	Model      calibration.Model
	Samples    int
	ThresholdW int
	Interval   time.Duration
	// Iterations is the number of ticks to run, 0 runs until cancelled.
	Iterations int
	// FlushEvery hands records to the sink every N ticks. 0 keeps everything
	// until the loop stops.
	FlushEvery int

	// Now stamps records. Defaults to time.Now.
	Now func() time.Time

	runID string
	state State
}

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Ticks   int
	Partial int
	Flushed int
}

// New builds a loop over the transports in set using the timing, model and
// threshold from cfg.
func New(cfg config.Config, set *sensor.Set, sink Sink) *Loop {
	return &Loop{
		Weight:      set.Weight,
		Environment: set.Environment,
		Power:       set.Power,
		Sink:        sink,
		Model:       cfg.Weight.Model(),
		Samples:     cfg.Weight.Samples,
		ThresholdW:  cfg.Power.AlarmThresholdW,
		Interval:    cfg.Interval(),
		Iterations:  cfg.Iterations,
		FlushEvery:  cfg.FlushEvery,
		runID:       uuid.NewString(),
	}
}

// RunID identifies the records produced by this loop.
func (l *Loop) RunID() string {
	if l.runID == "" {
		l.runID = uuid.NewString()
	}
	return l.runID
}

// State reports where the loop is in its lifecycle.
func (l *Loop) State() State {
	return l.state
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Run ticks until the iteration count is reached, ctx is cancelled or a
// transport becomes unavailable. Records are flushed to the sink before Run
// returns in every case. Cancellation is only observed between ticks.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	if err := l.Model.Validate(); err != nil {
		return Summary{}, err
	}
	if l.Samples < 1 {
		l.Samples = 1
	}

	sum := Summary{RunID: l.RunID()}
	log := logrus.WithField("run_id", sum.RunID)
	// reads are never interrupted half way
	readCtx := context.WithoutCancel(ctx)

	l.state = Running
	defer func() { l.state = Stopped }()
	log.WithFields(logrus.Fields{
		"interval":   l.Interval,
		"iterations": l.Iterations,
		"offset":     l.Model.Offset,
		"ratio":      l.Model.Ratio,
	}).Info("acquisition started")

	if err := l.Power.SetAlarmThreshold(readCtx, l.ThresholdW); err != nil {
		if sensor.IsFatal(err) {
			return sum, fmt.Errorf("%s: %w", SourcePower, err)
		}
		log.WithError(err).WithField("threshold_w", l.ThresholdW).Warn("could not set power alarm threshold")
	}

	var (
		buf      []Record
		runErr   error
		sinkErrs []error
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		n := len(buf)
		if err := l.Sink.Publish(buf); err != nil {
			log.WithError(err).WithField("records", n).Error("flush failed")
			metrics.FlushFailuresTotal.Inc()
			sinkErrs = append(sinkErrs, err)
		} else {
			sum.Flushed += n
		}
		buf = nil
	}

	for tick := 1; l.Iterations == 0 || tick <= l.Iterations; tick++ {
		if ctx.Err() != nil {
			break
		}

		rec, fatal := l.tick(readCtx, tick)
		buf = append(buf, rec)
		sum.Ticks++
		if rec.Partial() {
			sum.Partial++
		}
		if fatal != nil {
			runErr = fatal
			break
		}
		if l.FlushEvery > 0 && len(buf) >= l.FlushEvery {
			flush()
		}
		if l.Iterations != 0 && tick == l.Iterations {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(l.Interval):
		}
	}

	flush()
	log.WithFields(logrus.Fields{
		"ticks":   sum.Ticks,
		"partial": sum.Partial,
		"flushed": sum.Flushed,
	}).Info("acquisition stopped")

	if runErr != nil {
		return sum, runErr
	}
	if len(sinkErrs) > 0 {
		return sum, fmt.Errorf("publish records: %w", errors.Join(sinkErrs...))
	}
	return sum, nil
}

// tick reads every sensor once. A fatal transport error is returned after all
// sources have been tried so the record is as complete as possible.
func (l *Loop) tick(ctx context.Context, n int) (Record, error) {
	start := time.Now()
	rec := Record{
		RunID:     l.RunID(),
		Tick:      n,
		Timestamp: l.now(),
		Threshold: l.ThresholdW,
	}
	var fatal error
	fail := func(src Source, err error) {
		f := Fault{Source: src, Error: err.Error(), Fatal: sensor.IsFatal(err)}
		rec.Faults = append(rec.Faults, f)
		metrics.SensorErrors.WithLabelValues(string(src), errorKind(err)).Inc()
		entry := logrus.WithFields(logrus.Fields{"sensor": src, "tick": n}).WithError(err)
		if f.Fatal {
			entry.Error("sensor unavailable")
			if fatal == nil {
				fatal = fmt.Errorf("%s: %w", src, err)
			}
			return
		}
		entry.Warn("sensor read failed")
	}

	if raw, err := l.Weight.ReadRaw(ctx, l.Samples); err != nil {
		fail(SourceWeight, err)
	} else {
		rec.Grams = calibration.Grams(raw, l.Model)
	}

	if env, err := l.Environment.Read(ctx); err != nil {
		fail(SourceEnvironment, err)
	} else {
		rec.Temperature = env.Temperature
		rec.Humidity = env.Humidity
	}

	if frame, err := l.Power.ReadFrame(ctx); err != nil {
		fail(SourcePower, err)
	} else {
		p := power.Decode(frame, l.ThresholdW)
		rec.Voltage = p.Voltage
		rec.Current = p.Current
		rec.Power = p.Power
		rec.Energy = p.Energy
		rec.Frequency = p.Frequency
		rec.PowerFactor = p.PowerFactor
		rec.Alarm = p.Alarm
	}

	metrics.TickDuration.Observe(time.Since(start).Seconds())
	observe(rec)
	logrus.WithFields(logrus.Fields{
		"tick":        n,
		"grams":       rec.Grams,
		"temperature": rec.Temperature,
		"humidity":    rec.Humidity,
		"power":       rec.Power,
	}).Debug("tick")
	return rec, fatal
}

func observe(rec Record) {
	metrics.TicksTotal.Inc()
	if rec.Partial() {
		metrics.PartialRecordsTotal.Inc()
	}
	if !rec.Failed(SourceWeight) {
		metrics.Reading.WithLabelValues("grams").Set(rec.Grams)
	}
	if !rec.Failed(SourceEnvironment) {
		metrics.Reading.WithLabelValues("temperature_c").Set(rec.Temperature)
		metrics.Reading.WithLabelValues("humidity_pct").Set(rec.Humidity)
	}
	if !rec.Failed(SourcePower) {
		metrics.Reading.WithLabelValues("voltage_v").Set(rec.Voltage)
		metrics.Reading.WithLabelValues("current_a").Set(rec.Current)
		metrics.Reading.WithLabelValues("power_w").Set(rec.Power)
		metrics.Reading.WithLabelValues("energy_wh").Set(float64(rec.Energy))
		metrics.Reading.WithLabelValues("frequency_hz").Set(rec.Frequency)
		metrics.Reading.WithLabelValues("power_factor").Set(rec.PowerFactor)
		alarm := 0.0
		if rec.Alarm {
			alarm = 1
		}
		metrics.Reading.WithLabelValues("alarm").Set(alarm)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, sensor.ErrTransportUnavailable):
		return "unavailable"
	case errors.Is(err, sensor.ErrTransportTimeout):
		return "timeout"
	case errors.Is(err, sensor.ErrProtocolTimeout):
		return "protocol_timeout"
	case errors.Is(err, sensor.ErrProtocolFraming):
		return "framing"
	}
	return "other"
}
