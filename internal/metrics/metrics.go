// Package metrics exposes Prometheus instrumentation for loads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/taskloader/internal/loader"
)

// Recorder implements loader.Observer and records load outcomes.
type Recorder struct {
	registry *prometheus.Registry
	loads    *prometheus.CounterVec
	duration prometheus.Histogram
	tasks    prometheus.Gauge
}

var _ loader.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskloader",
			Name:      "loads_total",
			Help:      "Number of completed loads by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskloader",
			Name:      "load_duration_seconds",
			Help:      "Duration of loads.",
			Buckets:   prometheus.DefBuckets,
		}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskloader",
			Name:      "tasks",
			Help:      "Number of tasks in the store after the last successful load.",
		}),
	}
	r.registry.MustRegister(r.loads, r.duration, r.tasks)
	return r
}

func (r *Recorder) LoadStarted(string) {}

func (r *Recorder) LoadFinished(res *loader.Result, err error) {
	r.duration.Observe(res.Duration.Seconds())
	if err != nil {
		r.loads.WithLabelValues("error").Inc()
		return
	}
	r.loads.WithLabelValues("success").Inc()
	r.tasks.Set(float64(res.Count))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
