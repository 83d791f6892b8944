package calibration

import "errors"

var (
	// ErrDegenerateCalibration is returned when a trial's loaded reading equals
	// its tare reading, which leaves the ratio undefined. The measurement has to
	// be repeated.
	ErrDegenerateCalibration = errors.New("degenerate calibration: known raw equals zero raw")

	// ErrEmptyCalibrationSet is returned when reconciling zero trials.
	ErrEmptyCalibrationSet = errors.New("empty calibration set")
)

// Model maps raw load-cell counts to grams.
type Model struct {
	Offset int64   `json:"offset"`
	Ratio  float64 `json:"ratio"`
}

// Validate reports whether the model can be used for conversion.
func (m Model) Validate() error {
	if m.Ratio == 0 {
		return ErrDegenerateCalibration
	}
	return nil
}

// Grams converts a raw count using m. The subtraction is done on integers so
// that two 24-bit values of similar magnitude do not lose precision.
func Grams(raw int64, m Model) float64 {
	return float64(raw-m.Offset) * m.Ratio
}

// Raw is the inverse of Grams: the raw count expected for the given weight.
func (m Model) Raw(grams float64) float64 {
	return float64(m.Offset) + grams/m.Ratio
}
