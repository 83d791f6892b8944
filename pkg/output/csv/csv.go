// Package csv appends records to a CSV file with one row per tick.
package csv

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/output"
)

// TimeLayout keeps millisecond resolution so sub-second ticks stay ordered.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Header is written once when the file is new or empty.
var Header = []string{
	"Time", "Grams", "Temperature", "Humidity", "Voltage", "Current",
	"Power", "Energy", "Frequency", "Power_Factor", "Threshold", "Alarm_Status",
}

type CSVOutput struct {
	f *os.File
	w *csv.Writer
}

// NewCSV opens path for appending.
func NewCSV(path string) (output.Output, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	c := &CSVOutput{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := c.w.Write(Header); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write csv header")
		}
		c.w.Flush()
		if err := c.w.Error(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write csv header")
		}
	}
	return c, nil
}

func (c *CSVOutput) Publish(records []acquisition.Record) error {
	for _, r := range records {
		if err := c.w.Write(Row(r)); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	c.w.Flush()
	return errors.Wrap(c.w.Error(), "flush csv")
}

func (c *CSVOutput) Name() string { return "csv" }

func (c *CSVOutput) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// Row renders r in Header order. Fields of a failed source are left empty.
func Row(r acquisition.Record) []string {
	row := make([]string, len(Header))
	row[0] = r.Timestamp.Format(TimeLayout)
	if !r.Failed(acquisition.SourceWeight) {
		row[1] = formatFloat(r.Grams)
	}
	if !r.Failed(acquisition.SourceEnvironment) {
		row[2] = formatFloat(r.Temperature)
		row[3] = formatFloat(r.Humidity)
	}
	if !r.Failed(acquisition.SourcePower) {
		row[4] = formatFloat(r.Voltage)
		row[5] = formatFloat(r.Current)
		row[6] = formatFloat(r.Power)
		row[7] = strconv.FormatUint(uint64(r.Energy), 10)
		row[8] = formatFloat(r.Frequency)
		row[9] = formatFloat(r.PowerFactor)
		row[11] = alarmStatus(r.Alarm)
	}
	row[10] = strconv.Itoa(r.Threshold)
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func alarmStatus(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
