// Package metrics exposes acquisition state to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// TicksTotal counts finished acquisition ticks
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drip_ticks_total",
			Help: "Total number of acquisition ticks",
		},
	)

	// PartialRecordsTotal counts records with at least one failed sensor
	PartialRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drip_partial_records_total",
			Help: "Total number of records with a missing sensor reading",
		},
	)

	SensorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drip_sensor_errors_total",
			Help: "Total number of sensor read failures",
		},
		[]string{"sensor", "kind"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drip_tick_duration_seconds",
			Help:    "Time spent reading all sensors in one tick",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Reading holds the latest value per quantity, e.g. quantity="grams"
	Reading = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drip_reading",
			Help: "Latest physical reading per quantity",
		},
		[]string{"quantity"},
	)

	// FlushFailuresTotal counts record batches the loop could not hand over
	FlushFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drip_flush_failures_total",
			Help: "Total number of record batches that failed to publish",
		},
	)

	// FlushErrors counts publish failures per output, e.g. output="mqtt"
	FlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drip_flush_errors_total",
			Help: "Total number of failed record hand-offs to outputs",
		},
		[]string{"output"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("metrics listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
