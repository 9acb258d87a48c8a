// Package metrics records HTTP request counters and latencies for Prometheus scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "readsync"
	unmatchedRoute = "unmatched"
)

// Recorder owns the request metrics registered on one registry.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the request metrics on registry; a nil registry gets a fresh one.
func New(registry *prometheus.Registry) (*Recorder, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	for _, collector := range []prometheus.Collector{requests, duration} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return &Recorder{registry: registry, requests: requests, duration: duration}, nil
}

// Middleware observes every request handled by the router.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		r.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.duration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
