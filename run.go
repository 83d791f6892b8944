package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/metrics"
	"github.com/ericogr/drip/pkg/output"
	"github.com/ericogr/drip/pkg/output/console"
	"github.com/ericogr/drip/pkg/output/csv"
	"github.com/ericogr/drip/pkg/output/mqtt"
	"github.com/ericogr/drip/pkg/output/redis"
	"github.com/ericogr/drip/pkg/sensor"
)

const (
	// conversion rate of the HX711 with RATE tied low
	hx711SamplesPerSecond = 10
	// Si7021 RH plus temperature conversion at 12 bit
	environmentReadBudget = 25 * time.Millisecond
	// 8 byte request and 25 byte reply at 9600 baud plus turnaround
	powerReadBudget = 60 * time.Millisecond
)

func NewRunCommand(o *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the acquisition loop",
		Long: `Read every sensor once per tick and hand the records to the configured
outputs. Stops after --iterations ticks or on SIGINT/SIGTERM; collected
records are always flushed before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	set, err := sensor.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := set.Close(); err != nil {
			logrus.WithError(err).Warn("closing sensors")
		}
	}()

	outs, err := initOutputs(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := outs.Close(); err != nil {
			logrus.WithError(err).Warn("closing outputs")
		}
	}()

	if cfg.Metrics.Listen != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(mctx, cfg.Metrics.Listen); err != nil {
				logrus.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	budget := computeTickBudget(cfg)
	logrus.WithFields(logrus.Fields{
		"read_budget": budget,
		"interval":    cfg.Interval(),
		"period":      budget + cfg.Interval(),
	}).Info("estimated tick timing")

	loop := acquisition.New(cfg, set, outs)
	sum, err := loop.Run(ctx)
	color.New(color.Bold).Printf("----- ran %d ticks (%d partial, %d flushed) run %s -----\n",
		sum.Ticks, sum.Partial, sum.Flushed, sum.RunID)
	return err
}

// initOutputs opens every configured output. On failure the outputs opened
// so far are closed.
func initOutputs(cfg config.Config) (output.Multi, error) {
	var outs output.Multi
	for _, oc := range cfg.Outputs {
		var (
			o   output.Output
			err error
		)
		switch strings.ToLower(oc.Type) {
		case config.OutputConsole:
			o = console.NewConsole()
		case config.OutputCSV:
			o, err = csv.NewCSV(oc.Path)
		case config.OutputMQTT:
			o, err = mqtt.NewMQTT(oc.MQTT)
		case config.OutputRedis:
			o, err = redis.NewRedis(oc.Redis)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			outs.Close()
			return nil, fmt.Errorf("output %s: %w", oc.Type, err)
		}
		outs = append(outs, o)
	}
	return outs, nil
}

// computeTickBudget estimates how long reading every sensor once takes. The
// loop sleeps the interval after that, so the sampling period is the sum.
func computeTickBudget(cfg config.Config) time.Duration {
	if cfg.Simulated() {
		return 0
	}
	rate := hx711SamplesPerSecond
	if strings.EqualFold(cfg.Weight.Frontend, config.FrontendNAU7802) && cfg.Weight.NAU7802.SampleRate > 0 {
		rate = cfg.Weight.NAU7802.SampleRate
	}
	samples := cfg.Weight.Samples
	if samples < 1 {
		samples = 1
	}
	weight := time.Duration(samples) * time.Second / time.Duration(rate)
	return weight + environmentReadBudget + powerReadBudget
}
