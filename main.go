package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ericogr/drip/pkg/config"
)

var (
	logLevel   = "info"
	configPath = ""
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.StampMilli,
		})
	}
	return nil
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drip",
		Short: "drip samples a load cell, a humidity sensor and a power meter",
		Long: `drip polls the sensors of a dehumidifier test rig: a strain-gauge load cell
behind an HX711 or NAU7802, an Si7021 temperature/humidity sensor and a
PZEM-004T power meter on Modbus RTU. Samples go to the console, CSV, MQTT
or Redis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVarP(&configPath, "config", "c", configPath, "path to JSON config file")
	overrides := config.BindFlags(globalFlags)

	cmd.AddCommand(
		NewRunCommand(overrides),
		NewCalibrateCommand(overrides),
		NewReconcileCommand(overrides),
		NewResetEnergyCommand(overrides),
	)
	return cmd
}

// loadConfig reads the config file, applies flag overrides and validates
// the result.
func loadConfig(o *config.Overrides) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := o.Apply(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
