// Package metrics exposes snapkeep's Prometheus instrumentation.
//
// A Collector owns its own registry so tests and multiple daemons in one
// process never collide on the global default registry. Every method is safe
// to call on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapkeep"

// Collector records scheduler, capture, upload, and retention activity.
type Collector struct {
	registry *prometheus.Registry

	ticks            prometheus.Counter
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	captures         *prometheus.CounterVec
	captureDuration  prometheus.Histogram
	uploads          *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	uploadDuration   prometheus.Histogram
	deletes          *prometheus.CounterVec
	busyDrops        *prometheus.CounterVec
	stagingDepth     prometheus.Gauge
}

// NewCollector builds a collector. A nil registry gets a fresh one with the
// Go runtime and process collectors attached.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Clock comparisons performed by the scheduler.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatches_total",
			Help:      "Handler invocations by event, handler, and result.",
		}, []string{"event", "handler", "result"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatch_duration_seconds",
			Help:      "Synchronous handler run time.",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10},
		}, []string{"handler"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "snapshots_total",
			Help:      "Snapshot command runs by result.",
		}, []string{"result"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Snapshot command run time.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 120},
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "transfers_total",
			Help:      "Staged file transfers by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes of successfully uploaded files.",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Per-file transfer time.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 4, 8),
		}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deletes_total",
			Help:      "Remote delete attempts by result.",
		}, []string{"result"}),
		busyDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_drops_total",
			Help:      "Triggers dropped because another drain or reconcile held the guard.",
		}, []string{"operation"}),
		stagingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "staged_files",
			Help:      "Files waiting in the staging directory at the last listing.",
		}),
	}

	registry.MustRegister(
		c.ticks,
		c.dispatches,
		c.dispatchDuration,
		c.captures,
		c.captureDuration,
		c.uploads,
		c.uploadBytes,
		c.uploadDuration,
		c.deletes,
		c.busyDrops,
		c.stagingDepth,
	)
	return c
}

// Registry returns the backing registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// ObserveTick counts one scheduler comparison.
func (c *Collector) ObserveTick() {
	if c == nil {
		return
	}
	c.ticks.Inc()
}

// ObserveDispatch records one handler invocation.
func (c *Collector) ObserveDispatch(event, handler string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(eventLabel(event), handler, result(err == nil)).Inc()
	c.dispatchDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// CaptureFinished records one snapshot command run.
func (c *Collector) CaptureFinished(ok bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.captures.WithLabelValues(result(ok)).Inc()
	c.captureDuration.Observe(elapsed.Seconds())
}

// UploadFinished records one file transfer.
func (c *Collector) UploadFinished(ok bool, size int64, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(result(ok)).Inc()
	c.uploadDuration.Observe(elapsed.Seconds())
	if ok && size > 0 {
		c.uploadBytes.Add(float64(size))
	}
}

// DeleteFinished records one remote delete.
func (c *Collector) DeleteFinished(ok bool) {
	if c == nil {
		return
	}
	c.deletes.WithLabelValues(result(ok)).Inc()
}

// BusyDropped counts a trigger dropped by the single-flight guard.
func (c *Collector) BusyDropped(operation string) {
	if c == nil {
		return
	}
	c.busyDrops.WithLabelValues(operation).Inc()
}

// SetStagingDepth records the staging directory size.
func (c *Collector) SetStagingDepth(n int) {
	if c == nil {
		return
	}
	c.stagingDepth.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// eventLabel folds per-minute event names into their kind to bound label
// cardinality.
func eventLabel(event string) string {
	switch {
	case len(event) == 3 && event[0] == ':':
		return "minute_mark"
	case len(event) == 5 && event[2] == ':':
		return "clock_time"
	case event == "":
		return "manual"
	default:
		return event
	}
}
