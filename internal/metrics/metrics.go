// Package metrics exposes Prometheus collectors for the sync and reminder
// pipeline. Collectors register on the default registry at init.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julianstephens/habitual/internal/logger"
)

const namespace = "habitual"

var (
	// RemoteOperations counts remote store calls by operation and outcome.
	RemoteOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_operations_total",
			Help:      "Remote store calls by operation and result",
		},
		[]string{"operation", "result"}, // result: ok, error, fallback
	)

	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_operation_duration_seconds",
			Help:      "Remote store call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)

	SnapshotsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_received_total",
			Help:      "Full collection snapshots delivered by the remote listener",
		},
	)

	HabitsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "habits_tracked",
			Help:      "Habits in the current in-memory collection",
		},
	)

	// RemindersScheduled counts alarm registrations by kind.
	RemindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Alarms registered by kind",
		},
		[]string{"kind"}, // kind: recurring, rearm, snooze
	)

	RemindersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Alarms fired by delivery result",
		},
		[]string{"result"}, // result: delivered, failed
	)

	CheckinsLast7Days = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkins_last_7_days",
			Help:      "Total check-ins across habits over the last 7 days",
		},
	)
)

// ObserveRemote records one remote call.
func ObserveRemote(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RemoteOperations.WithLabelValues(operation, result).Inc()
	RemoteLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementFallback records a remote call that was replaced by a local fallback.
func IncrementFallback(operation string) {
	RemoteOperations.WithLabelValues(operation, "fallback").Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
