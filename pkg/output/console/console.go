package console

import (
	"fmt"
	"time"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/output"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(records []acquisition.Record) error {
	for _, r := range records {
		fmt.Printf("--- %d %s ---\n", r.Tick, r.Timestamp.Format(time.RFC3339))
		if r.Failed(acquisition.SourceWeight) {
			fmt.Printf("Grams: unavailable\n")
		} else {
			fmt.Printf("Grams: %.2f g\n", r.Grams)
		}
		if r.Failed(acquisition.SourceEnvironment) {
			fmt.Printf("Temperature: unavailable\nHumidity: unavailable\n")
		} else {
			fmt.Printf("Temperature: %.1f C\n", r.Temperature)
			fmt.Printf("Humidity: %.1f %%\n", r.Humidity)
		}
		if r.Failed(acquisition.SourcePower) {
			fmt.Printf("Power meter: unavailable\n")
		} else {
			fmt.Printf("Voltage: %.1f V\n", r.Voltage)
			fmt.Printf("Current: %.3f A\n", r.Current)
			fmt.Printf("Power: %.1f W\n", r.Power)
			fmt.Printf("Energy: %d Wh\n", r.Energy)
			fmt.Printf("Frequency: %.1f Hz\n", r.Frequency)
			fmt.Printf("Power Factor: %.2f\n", r.PowerFactor)
			fmt.Printf("Threshold: %d\n", r.Threshold)
			fmt.Printf("Alarm Status: %s\n", onOff(r.Alarm))
		}
		for _, f := range r.Faults {
			fmt.Printf("! %s: %s\n", f.Source, f.Error)
		}
	}
	return nil
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Close() error { return nil }

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
