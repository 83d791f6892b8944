package output

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/metrics"
)

type recordingOutput struct {
	name     string
	err      error
	received int
	closed   bool
}

func (r *recordingOutput) Name() string { return r.name }

func (r *recordingOutput) Publish(records []acquisition.Record) error {
	r.received += len(records)
	return r.err
}

func (r *recordingOutput) Close() error {
	r.closed = true
	return nil
}

func TestMultiPublish(t *testing.T) {
	ok := &recordingOutput{name: "console"}
	broken := &recordingOutput{name: "multi-test-broken", err: errors.New("broker down")}
	m := Multi{broken, ok}

	before := testutil.ToFloat64(metrics.FlushErrors.WithLabelValues("multi-test-broken"))
	err := m.Publish([]acquisition.Record{{Tick: 1}, {Tick: 2}})
	if err == nil || !strings.Contains(err.Error(), "multi-test-broken: broker down") {
		t.Fatalf("err = %v", err)
	}
	if ok.received != 2 || broken.received != 2 {
		t.Fatalf("received ok=%d broken=%d; want 2 each", ok.received, broken.received)
	}
	after := testutil.ToFloat64(metrics.FlushErrors.WithLabelValues("multi-test-broken"))
	if after-before != 1 {
		t.Fatalf("flush errors for broken output went from %v to %v", before, after)
	}
	if got := testutil.ToFloat64(metrics.FlushErrors.WithLabelValues("console")); got != 0 {
		t.Fatalf("flush errors for healthy output = %v", got)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ok.closed || !broken.closed {
		t.Fatal("not every output was closed")
	}
}
