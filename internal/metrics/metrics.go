// Package metrics is the process's optional observability surface,
// exposed over /metrics when the configuration file sets "debug": true
// (spec.md §4.8). It wraps prometheus/client_golang, mirroring the
// collector-registration idiom used for docker daemon metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wb_mqtt_smartweb"

// Registry holds every counter/gauge the gateway publishes.
type Registry struct {
	reg *prometheus.Registry

	FramesReceived  *prometheus.CounterVec
	FramesSent      *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	KnownPrograms   prometheus.Gauge
	PollQueueDepth  prometheus.Gauge
	BrokerWrites    *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
}

// New builds and registers every metric. Labels are small enumerations
// (program type, drop reason, write outcome, codec name), so cardinality
// stays bounded rather than growing with individual frame counts.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "CAN frames received from the bus port, by program type.",
		}, []string{"program_type"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "CAN frames sent to the bus port, by program type.",
		}, []string{"program_type"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "CAN frames dropped (full queue, decode failure), by reason.",
		}, []string{"reason"}),
		KnownPrograms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "known_programs",
			Help: "Number of SmartWeb programs currently discovered on the bus.",
		}),
		PollQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "poll_queue_depth",
			Help: "Number of entries in the round-robin poll request list.",
		}),
		BrokerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broker_writes_total",
			Help: "Value writes received from the broker, by outcome.",
		}, []string{"outcome"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_errors_total",
			Help: "Value codec decode failures, by codec name.",
		}, []string{"codec"}),
	}

	reg.MustRegister(
		r.FramesReceived, r.FramesSent, r.FramesDropped,
		r.KnownPrograms, r.PollQueueDepth, r.BrokerWrites, r.DecodeErrors,
	)
	return r
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
