package acquisition

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ericogr/drip/pkg/calibration"
	"github.com/ericogr/drip/pkg/metrics"
	"github.com/ericogr/drip/pkg/power"
	"github.com/ericogr/drip/pkg/sensor"
)

type stubWeight struct {
	raw    int64
	errs   map[int]error
	calls  int
	onRead func(ctx context.Context, call int)
}

func (s *stubWeight) ReadRaw(ctx context.Context, samples int) (int64, error) {
	s.calls++
	if s.onRead != nil {
		s.onRead(ctx, s.calls)
	}
	if err := s.errs[s.calls]; err != nil {
		return 0, err
	}
	return s.raw, nil
}

func (s *stubWeight) Close() error { return nil }

type stubEnvironment struct {
	env  sensor.Environment
	errs map[int]error
	n    int
}

func (s *stubEnvironment) Read(ctx context.Context) (sensor.Environment, error) {
	s.n++
	if err := s.errs[s.n]; err != nil {
		return sensor.Environment{}, err
	}
	return s.env, nil
}

func (s *stubEnvironment) Close() error { return nil }

type stubPower struct {
	frame        power.Frame
	errs         map[int]error
	n            int
	threshold    int
	thresholdErr error
}

func (s *stubPower) ReadFrame(ctx context.Context) (power.Frame, error) {
	s.n++
	if err := s.errs[s.n]; err != nil {
		return power.Frame{}, err
	}
	return s.frame, nil
}

func (s *stubPower) SetAlarmThreshold(ctx context.Context, watts int) error {
	s.threshold = watts
	return s.thresholdErr
}

func (s *stubPower) Close() error { return nil }

type memorySink struct {
	batches [][]Record
	err     error
}

func (m *memorySink) Publish(records []Record) error {
	m.batches = append(m.batches, records)
	return m.err
}

func (m *memorySink) all() []Record {
	var out []Record
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

var exampleFrame = power.Frame{2200, 500, 0, 1000, 0, 12345, 0, 600, 98, 0}

func newTestLoop(iterations int) (*Loop, *stubWeight, *stubEnvironment, *stubPower, *memorySink) {
	w := &stubWeight{raw: -4139843}
	e := &stubEnvironment{env: sensor.Environment{Temperature: 23.4, Humidity: 61.2}}
	p := &stubPower{frame: exampleFrame}
	sink := &memorySink{}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := 0
	l := &Loop{
		Weight:      w,
		Environment: e,
		Power:       p,
		Sink:        sink,
		Model:       calibration.Model{Offset: -4143700, Ratio: 407.0 / 3857.0},
		Samples:     3,
		ThresholdW:  50000,
		Interval:    time.Millisecond,
		Iterations:  iterations,
		Now: func() time.Time {
			clock++
			return base.Add(time.Duration(clock) * 2 * time.Second)
		},
	}
	return l, w, e, p, sink
}

func TestRunBounded(t *testing.T) {
	l, _, _, p, sink := newTestLoop(3)

	if l.State() != Idle {
		t.Fatalf("state before Run = %s, want idle", l.State())
	}
	sum, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Ticks != 3 || sum.Flushed != 3 || sum.Partial != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if p.threshold != 50000 {
		t.Fatalf("alarm threshold written = %d, want 50000", p.threshold)
	}
	if l.State() != Stopped {
		t.Fatalf("state = %s, want stopped", l.State())
	}

	recs := sink.all()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, r := range recs {
		if i > 0 && !r.Timestamp.After(recs[i-1].Timestamp) {
			t.Fatalf("record %d timestamp %v not after %v", i, r.Timestamp, recs[i-1].Timestamp)
		}
		if r.RunID != sum.RunID || r.Tick != i+1 {
			t.Fatalf("record %d run=%q tick=%d", i, r.RunID, r.Tick)
		}
		if math.Abs(r.Grams-407) > 1e-9 {
			t.Fatalf("grams = %v, want 407", r.Grams)
		}
		if r.Temperature != 23.4 || r.Humidity != 61.2 {
			t.Fatalf("environment = %v/%v", r.Temperature, r.Humidity)
		}
		if r.Voltage != 220 || r.Current != 0.5 || r.Power != 100 || r.Energy != 12345 {
			t.Fatalf("power fields = %+v", r)
		}
		if r.Threshold != 50000 || r.Alarm {
			t.Fatalf("threshold=%d alarm=%v", r.Threshold, r.Alarm)
		}
	}
}

func TestRunCancelFlushesCompletedTicks(t *testing.T) {
	l, w, _, _, sink := newTestLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readCtxErr error
	w.onRead = func(rctx context.Context, call int) {
		if call == 2 {
			cancel()
			readCtxErr = rctx.Err()
		}
	}

	sum, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if readCtxErr != nil {
		t.Fatalf("read context was cancelled mid tick: %v", readCtxErr)
	}
	recs := sink.all()
	if len(recs) != 2 || sum.Ticks != 2 {
		t.Fatalf("got %d records (%d ticks), want 2", len(recs), sum.Ticks)
	}
	for _, r := range recs {
		if r.Partial() {
			t.Fatalf("record %d is partial: %+v", r.Tick, r.Faults)
		}
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	l, _, _, _, sink := newTestLoop(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Ticks != 0 || len(sink.batches) != 0 {
		t.Fatalf("expected no ticks, got %+v and %d batches", sum, len(sink.batches))
	}
}

func TestRunTransientFaultsArePartial(t *testing.T) {
	l, w, e, p, sink := newTestLoop(3)
	w.errs = map[int]error{2: sensor.ErrTransportTimeout}
	e.errs = map[int]error{3: sensor.ErrProtocolFraming}
	p.errs = map[int]error{2: sensor.ErrProtocolTimeout}

	sum, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Partial != 2 {
		t.Fatalf("partial = %d, want 2", sum.Partial)
	}
	recs := sink.all()
	if recs[0].Partial() {
		t.Fatalf("first record should be complete: %+v", recs[0].Faults)
	}
	if !recs[1].Failed(SourceWeight) || !recs[1].Failed(SourcePower) || recs[1].Failed(SourceEnvironment) {
		t.Fatalf("record 2 faults = %+v", recs[1].Faults)
	}
	if recs[1].Grams != 0 || recs[1].Humidity != 61.2 {
		t.Fatalf("record 2 fields grams=%v humidity=%v", recs[1].Grams, recs[1].Humidity)
	}
	if !recs[2].Failed(SourceEnvironment) || recs[2].Voltage != 220 {
		t.Fatalf("record 3 = %+v", recs[2])
	}
	if recs[1].Faults[0].Fatal {
		t.Fatal("timeout must not be marked fatal")
	}
}

func TestRunFatalFlushesAndStops(t *testing.T) {
	l, _, e, _, sink := newTestLoop(0)
	e.errs = map[int]error{2: sensor.ErrTransportUnavailable}

	sum, err := l.Run(context.Background())
	if !errors.Is(err, sensor.ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	recs := sink.all()
	if len(recs) != 2 || sum.Flushed != 2 {
		t.Fatalf("flushed %d records, want 2", len(recs))
	}
	last := recs[1]
	if !last.Failed(SourceEnvironment) || !last.Faults[0].Fatal {
		t.Fatalf("last record faults = %+v", last.Faults)
	}
	// the other sources of the failing tick were still read
	if math.Abs(last.Grams-407) > 1e-9 || last.Voltage != 220 {
		t.Fatalf("last record = %+v", last)
	}
}

func TestRunFlushEvery(t *testing.T) {
	l, _, _, _, sink := newTestLoop(5)
	l.FlushEvery = 2

	if _, err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{2, 2, 1}
	if len(sink.batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(sink.batches), len(want))
	}
	for i, n := range want {
		if len(sink.batches[i]) != n {
			t.Fatalf("batch %d has %d records, want %d", i, len(sink.batches[i]), n)
		}
	}
}

func TestRunThresholdFailure(t *testing.T) {
	l, _, _, p, sink := newTestLoop(1)
	p.thresholdErr = sensor.ErrProtocolTimeout
	if _, err := l.Run(context.Background()); err != nil {
		t.Fatalf("transient threshold error should not stop the run: %v", err)
	}
	if len(sink.all()) != 1 {
		t.Fatalf("expected one record")
	}

	l, _, _, p, sink = newTestLoop(1)
	p.thresholdErr = sensor.ErrTransportUnavailable
	if _, err := l.Run(context.Background()); !errors.Is(err, sensor.ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	if len(sink.batches) != 0 {
		t.Fatalf("no records expected")
	}
}

func TestRunSinkError(t *testing.T) {
	l, _, _, _, sink := newTestLoop(2)
	sink.err = errors.New("disk full")
	before := testutil.ToFloat64(metrics.FlushFailuresTotal)

	sum, err := l.Run(context.Background())
	if err == nil {
		t.Fatal("expected publish error")
	}
	if sum.Ticks != 2 || sum.Flushed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := testutil.ToFloat64(metrics.FlushFailuresTotal) - before; got != 1 {
		t.Fatalf("flush failures counted = %v, want 1", got)
	}
}

func TestRunRejectsDegenerateModel(t *testing.T) {
	l, _, _, _, _ := newTestLoop(1)
	l.Model.Ratio = 0
	if _, err := l.Run(context.Background()); !errors.Is(err, calibration.ErrDegenerateCalibration) {
		t.Fatalf("err = %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{sensor.ErrTransportUnavailable, "unavailable"},
		{sensor.ErrTransportTimeout, "timeout"},
		{sensor.ErrProtocolTimeout, "protocol_timeout"},
		{sensor.ErrProtocolFraming, "framing"},
		{errors.New("x"), "other"},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Fatalf("errorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
