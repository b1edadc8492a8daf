// Package metrics provides Prometheus metrics collection for the daemon,
// grounded on the xg2g pack example's promauto-style var block
// (internal/metrics/business.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rabbitd_queue_depth",
		Help: "Number of work items currently queued (not running)",
	})

	WriterCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rabbitd_writers_connected",
		Help: "Number of currently connected writers",
	})

	WorkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabbitd_work_items_total",
		Help: "Completed work items by kind and terminal status",
	}, []string{"kind", "status"})

	ChoreographyFrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rabbitd_choreography_frame_seconds",
		Help:    "Observed wall-clock duration of one choreography tick",
		Buckets: []float64{0.005, 0.01, 0.015, 0.02, 0.05, 0.1},
	})

	SensorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabbitd_sensor_events_total",
		Help: "Hardware sensor events dispatched, by kind",
	}, []string{"kind"})

	SensorEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rabbitd_sensor_events_dropped_total",
		Help: "Sensor events dropped because the dispatcher backlog was full",
	})

	ActuatorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rabbitd_actuator_call_seconds",
		Help:    "Observed duration of an actuator call, by device",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"device"})

	WriterQueueOverflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rabbitd_writer_queue_overflows_total",
		Help: "Writers disconnected because their outbound queue filled up",
	})
)
