package output

import (
	"errors"
	"fmt"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/metrics"
)

type Output interface {
	// Name labels the output in logs and metrics.
	Name() string
	Publish([]acquisition.Record) error
	Close() error
}

// Multi fans records out to several outputs. Every output receives every
// batch even when an earlier one fails.
type Multi []Output

func (m Multi) Publish(records []acquisition.Record) error {
	var errs []error
	for _, o := range m {
		if err := o.Publish(records); err != nil {
			metrics.FlushErrors.WithLabelValues(o.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, o := range m {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
