package endpoint

import (
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "control_endpoint_operations_total",
		Help: "Control endpoint operations by outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "control_endpoint_operation_duration_seconds",
		Help:    "Control endpoint operation latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"operation"})

	registrarAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "control_registrar_attempts_total",
		Help: "Endpoint registration attempts by outcome.",
	}, []string{"outcome"})
)

const outcomeOK = "ok"

func outcomeOf(err error) string {
	if err == nil {
		return outcomeOK
	}
	if errorType, ok := errors.TypeOf(err); ok {
		return string(errorType)
	}
	return "error"
}

func observe(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, outcomeOf(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
