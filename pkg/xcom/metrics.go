package xcom

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcom",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Total Xcom requests by service, object type and outcome.",
		},
		[]string{"service", "object_type", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcom",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Xcom request duration in seconds, including channel arbitration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "object_type"},
	)
	arbiterWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcom",
			Subsystem: "arbiter",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for exclusive use of a channel.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

// RegisterMetrics registers the collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, arbiterWait)
	})
}

// outcome classifies err for the requests_total counter
func outcome(err error) string {
	var (
		fe *FramingError
		ve *ValidationError
		de *DeviceError
		ce *ChannelError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &de):
		return "device"
	case errors.As(err, &fe):
		return "framing"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "channel"
	}
	return "other"
}

func recordRequest(service ServiceID, ot ObjectType, err error, d time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(service.String(), ot.String(), outcome(err)).Inc()
	requestDuration.WithLabelValues(service.String(), ot.String()).Observe(d.Seconds())
}

func recordArbiterWait(channel string, d time.Duration) {
	RegisterMetrics()
	arbiterWait.WithLabelValues(channel).Observe(d.Seconds())
}
