package calibration

import (
	"fmt"
	"math"
)

// Trial is one manual calibration run: a tare reading, a reading with a known
// weight on the cell and that weight in grams.
type Trial struct {
	ZeroRaw     int64   `json:"zero_raw"`
	KnownRaw    int64   `json:"known_raw"`
	KnownWeight float64 `json:"known_weight_grams"`
}

// Entry is one row of the calibration log.
type Entry struct {
	Weight float64
	Offset int64
	Ratio  float64
}

// DeriveTrial computes the model implied by a single tare/load measurement.
func DeriveTrial(zeroRaw, knownRaw int64, knownWeight float64) (Model, error) {
	if knownRaw == zeroRaw {
		return Model{}, ErrDegenerateCalibration
	}
	return Model{
		Offset: zeroRaw,
		Ratio:  knownWeight / float64(knownRaw-zeroRaw),
	}, nil
}

// Entry returns the log row describing t.
func (t Trial) Entry() (Entry, error) {
	m, err := DeriveTrial(t.ZeroRaw, t.KnownRaw, t.KnownWeight)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Weight: t.KnownWeight, Offset: m.Offset, Ratio: m.Ratio}, nil
}

// point is the common input of the reconciliation: a logged tare offset, the
// raw value implied at the known weight and the weight itself.
type point struct {
	offset     int64
	impliedRaw float64
	weight     float64
}

// Reconcile merges several independent calibration runs into one model.
//
// The logged tare offsets are averaged, then the ratio is recomputed for every
// run against that consensus offset and averaged. A single trial reduces to
// DeriveTrial.
func Reconcile(trials []Trial) (Model, error) {
	if len(trials) == 0 {
		return Model{}, ErrEmptyCalibrationSet
	}
	points := make([]point, 0, len(trials))
	for i, t := range trials {
		if _, err := DeriveTrial(t.ZeroRaw, t.KnownRaw, t.KnownWeight); err != nil {
			return Model{}, fmt.Errorf("trial %d: %w", i, err)
		}
		// offset + weight/ratio is exactly KnownRaw, use it directly.
		points = append(points, point{offset: t.ZeroRaw, impliedRaw: float64(t.KnownRaw), weight: t.KnownWeight})
	}
	return reconcile(points)
}

// ReconcileHistory runs the reconciliation over calibration log rows. The raw
// reading at the known weight is reconstructed from each row's offset and
// ratio.
func ReconcileHistory(entries []Entry) (Model, error) {
	if len(entries) == 0 {
		return Model{}, ErrEmptyCalibrationSet
	}
	points := make([]point, 0, len(entries))
	for i, e := range entries {
		if e.Ratio == 0 {
			return Model{}, fmt.Errorf("entry %d: %w", i, ErrDegenerateCalibration)
		}
		m := Model{Offset: e.Offset, Ratio: e.Ratio}
		points = append(points, point{offset: e.Offset, impliedRaw: m.Raw(e.Weight), weight: e.Weight})
	}
	return reconcile(points)
}

func reconcile(points []point) (Model, error) {
	var sum float64
	for _, p := range points {
		sum += float64(p.offset)
	}
	optimalOffset := sum / float64(len(points))

	var ratioSum float64
	for i, p := range points {
		span := p.impliedRaw - optimalOffset
		if span == 0 {
			return Model{}, fmt.Errorf("trial %d against consensus offset: %w", i, ErrDegenerateCalibration)
		}
		ratioSum += p.weight / span
	}
	return Model{
		Offset: int64(math.Round(optimalOffset)),
		Ratio:  ratioSum / float64(len(points)),
	}, nil
}
