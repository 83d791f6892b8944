package calibration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// RawReader is the part of a load-cell transport the procedure needs.
type RawReader interface {
	ReadRaw(ctx context.Context, samples int) (int64, error)
}

// Procedure walks an operator through a tare / known-weight calibration.
type Procedure struct {
	Reader  RawReader
	Samples int
	// Verify is the number of readings taken with the new model once the
	// calibration is done.
	Verify int
	In     io.Reader
	Out    io.Writer
}

// Result of a finished procedure.
type Result struct {
	Trial    Trial
	Model    Model
	Readings []float64
}

// Run performs the procedure. Errors from the transport and from
// DeriveTrial are returned as is so the operator can retry.
func (p *Procedure) Run(ctx context.Context) (Result, error) {
	var res Result
	in := bufio.NewReader(p.In)
	bold := color.New(color.Bold)

	fmt.Fprintln(p.Out, "--- Calibration Step ---")
	fmt.Fprintln(p.Out, "REMOVE WEIGHTS FROM LOAD CELLS")
	if _, err := p.prompt(in, "Make sure the scale is EMPTY and press Enter to tare..."); err != nil {
		return res, err
	}
	zero, err := p.Reader.ReadRaw(ctx, p.Samples)
	if err != nil {
		return res, fmt.Errorf("tare reading: %w", err)
	}
	fmt.Fprintf(p.Out, "Tare complete. Zero raw value: %d\n", zero)

	if _, err := p.prompt(in, "Now place a known weight on the scale and press Enter..."); err != nil {
		return res, err
	}
	s, err := p.prompt(in, "Enter the weight you placed (in grams): ")
	if err != nil {
		return res, err
	}
	weight, err := strconv.ParseFloat(s, 64)
	if err != nil || weight <= 0 {
		return res, fmt.Errorf("invalid weight %q: expected a positive number of grams", s)
	}
	known, err := p.Reader.ReadRaw(ctx, p.Samples)
	if err != nil {
		return res, fmt.Errorf("known weight reading: %w", err)
	}
	fmt.Fprintf(p.Out, "Raw value with known weight: %d\n", known)

	model, err := DeriveTrial(zero, known, weight)
	if err != nil {
		return res, err
	}
	res.Trial = Trial{ZeroRaw: zero, KnownRaw: known, KnownWeight: weight}
	res.Model = model
	bold.Fprintf(p.Out, "Calculated scale factor: %v grams per raw unit\n", model.Ratio)
	bold.Fprintf(p.Out, "Offset (zero_raw): %d\n", model.Offset)
	fmt.Fprintln(p.Out, "--- Calibration Complete ---")
	logrus.WithFields(logrus.Fields{"offset": model.Offset, "ratio": model.Ratio, "weight": weight}).Info("calibration derived")

	for i := 0; i < p.Verify; i++ {
		raw, err := p.Reader.ReadRaw(ctx, p.Samples)
		if err != nil {
			return res, fmt.Errorf("verification reading %d: %w", i+1, err)
		}
		g := Grams(raw, model)
		res.Readings = append(res.Readings, g)
		fmt.Fprintf(p.Out, "weight: %.2f g\n", g)
	}
	return res, nil
}

func (p *Procedure) prompt(in *bufio.Reader, msg string) (string, error) {
	fmt.Fprint(p.Out, msg)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read operator input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
