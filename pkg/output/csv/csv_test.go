package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ericogr/drip/pkg/acquisition"
)

var ts = time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC)

func TestRow(t *testing.T) {
	tests := []struct {
		name string
		rec  acquisition.Record
		want string
	}{
		{
			name: "complete",
			rec: acquisition.Record{
				Timestamp: ts, Grams: 407, Temperature: 23.4, Humidity: 61.25,
				Voltage: 220, Current: 0.5, Power: 100, Energy: 12345,
				Frequency: 60, PowerFactor: 0.98, Threshold: 50000, Alarm: true,
			},
			want: "2024-05-01T12:00:02.000Z,407,23.4,61.25,220,0.5,100,12345,60,0.98,50000,1",
		},
		{
			name: "weight and power missing",
			rec: acquisition.Record{
				Timestamp: ts, Temperature: 23.4, Humidity: 61.25, Threshold: 50000,
				Faults: []acquisition.Fault{
					{Source: acquisition.SourceWeight},
					{Source: acquisition.SourcePower},
				},
			},
			want: "2024-05-01T12:00:02.000Z,,23.4,61.25,,,,,,,50000,",
		},
	}
	for _, tt := range tests {
		got := strings.Join(Row(tt.rec), ",")
		if got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestRowSubSecondTimestamps(t *testing.T) {
	a := Row(acquisition.Record{Timestamp: ts})[0]
	b := Row(acquisition.Record{Timestamp: ts.Add(250 * time.Millisecond)})[0]
	if a != "2024-05-01T12:00:02.000Z" || b != "2024-05-01T12:00:02.250Z" {
		t.Fatalf("timestamps %q, %q", a, b)
	}
	if a >= b {
		t.Fatalf("timestamps not ascending: %q >= %q", a, b)
	}
}

func TestHeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	rec := acquisition.Record{Timestamp: ts, Grams: 1, Threshold: 10}

	for i := 0; i < 2; i++ {
		o, err := NewCSV(path)
		if err != nil {
			t.Fatalf("NewCSV: %v", err)
		}
		if err := o.Publish([]acquisition.Record{rec}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if err := o.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), b)
	}
	if lines[0] != strings.Join(Header, ",") {
		t.Fatalf("header = %q", lines[0])
	}
	if strings.Count(string(b), "Time,Grams") != 1 {
		t.Fatalf("header repeated:\n%s", b)
	}
}
