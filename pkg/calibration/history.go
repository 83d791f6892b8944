package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var historyHeader = []string{"Weight", "Offset", "Ratio"}

// ReadHistory parses a calibration log. Columns are located by header name,
// case-insensitively, so logs written by older tools with extra columns load
// as well.
func ReadHistory(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read calibration log header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range historyHeader {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("calibration log: missing column %q", name)
		}
	}

	var out []Entry
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "calibration log line %d", line)
		}
		e, err := parseEntry(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("calibration log line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseEntry(rec []string, cols map[string]int) (Entry, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", fmt.Errorf("missing %s", name)
		}
		return strings.TrimSpace(rec[i]), nil
	}
	var e Entry
	s, err := field("weight")
	if err != nil {
		return e, err
	}
	if e.Weight, err = strconv.ParseFloat(s, 64); err != nil {
		return e, fmt.Errorf("weight: %w", err)
	}
	if s, err = field("offset"); err != nil {
		return e, err
	}
	// offsets are sometimes logged as floats
	off, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return e, fmt.Errorf("offset: %w", err)
	}
	e.Offset = int64(math.Round(off))
	if s, err = field("ratio"); err != nil {
		return e, err
	}
	if e.Ratio, err = strconv.ParseFloat(s, 64); err != nil {
		return e, fmt.Errorf("ratio: %w", err)
	}
	return e, nil
}

// LoadHistory reads the calibration log at path.
func LoadHistory(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open calibration log")
	}
	defer f.Close()
	return ReadHistory(f)
}

// AppendHistory appends e to the calibration log at path, writing the header
// first when the file is new or empty.
func AppendHistory(path string, e Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return pkgerrors.Wrap(err, "open calibration log")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return pkgerrors.Wrap(err, "stat calibration log")
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(historyHeader); err != nil {
			return err
		}
	}
	if err := w.Write([]string{
		strconv.FormatFloat(e.Weight, 'f', -1, 64),
		strconv.FormatInt(e.Offset, 10),
		strconv.FormatFloat(e.Ratio, 'f', -1, 64),
	}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
