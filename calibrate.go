package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ericogr/drip/pkg/calibration"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/sensor"
)

func NewCalibrateCommand(o *config.Overrides) *cobra.Command {
	var (
		verify int
		noLog  bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Derive offset and ratio from a tare and a known weight",
		Long: `Walk through a tare / known-weight calibration of the load cell. The
resulting trial is appended to the calibration log so repeated runs can be
reconciled later with 'drip reconcile'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			w, err := sensor.NewWeightTransport(cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logPath := cfg.CalibrationLog
			if noLog {
				logPath = ""
			}
			return calibrate(ctx, w, cfg.Weight.Samples, verify, logPath, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&verify, "verify", 5, "readings taken with the new model after calibrating")
	cmd.Flags().BoolVar(&noLog, "no-log", false, "do not append the trial to the calibration log")
	return cmd
}

func calibrate(ctx context.Context, r calibration.RawReader, samples, verify int, logPath string, in io.Reader, out io.Writer) error {
	p := &calibration.Procedure{
		Reader:  r,
		Samples: samples,
		Verify:  verify,
		In:      in,
		Out:     out,
	}
	res, err := p.Run(ctx)
	if errors.Is(err, calibration.ErrDegenerateCalibration) {
		return fmt.Errorf("%w: the reading did not change, check the load cell wiring and repeat", err)
	}
	if err != nil {
		return err
	}
	if logPath == "" {
		return nil
	}
	entry, err := res.Trial.Entry()
	if err != nil {
		return err
	}
	if err := calibration.AppendHistory(logPath, entry); err != nil {
		return err
	}
	logrus.WithField("path", logPath).Info("calibration trial logged")
	return nil
}

func NewReconcileCommand(o *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [calibration-log]",
		Short: "Compute one offset/ratio pair from all logged calibration trials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			path := cfg.CalibrationLog
			if len(args) == 1 {
				path = args[0]
			}
			m, n, err := reconcile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reconciled %d trials from %s\n", n, path)
			bold := color.New(color.Bold)
			bold.Fprintf(out, "Optimal offset: %d\n", m.Offset)
			bold.Fprintf(out, "Optimal ratio: %v\n", m.Ratio)
			fmt.Fprintf(out, "Use with: --offset=%d --ratio=%v\n", m.Offset, m.Ratio)
			return nil
		},
	}
}

func reconcile(path string) (calibration.Model, int, error) {
	entries, err := calibration.LoadHistory(path)
	if err != nil {
		return calibration.Model{}, 0, err
	}
	m, err := calibration.ReconcileHistory(entries)
	if err != nil {
		return calibration.Model{}, len(entries), fmt.Errorf("reconcile %s: %w", path, err)
	}
	logrus.WithFields(logrus.Fields{"trials": len(entries), "offset": m.Offset, "ratio": m.Ratio}).Debug("calibration reconciled")
	return m, len(entries), nil
}

func NewResetEnergyCommand(o *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-energy",
		Short: "Reset the power meter's energy counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			p, err := sensor.NewPowerTransport(cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := resetEnergy(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Energy counter reset")
			return nil
		},
	}
}

func resetEnergy(ctx context.Context, p sensor.PowerTransport) error {
	r, ok := p.(sensor.EnergyResetter)
	if !ok {
		return fmt.Errorf("power transport %T cannot reset energy", p)
	}
	return r.ResetEnergy(ctx)
}
