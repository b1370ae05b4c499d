// Package metrics exports file store activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

const namespace = "filestore"

// Label constants for metrics.
const (
	LabelBlobRemoved = "blob_removed"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatus      = "status"
)

// Metrics counts file lifecycle events and HTTP requests. It implements
// filestore.EventSink.
type Metrics struct {
	filesCreated     prometheus.Counter
	bytesCreated     prometheus.Counter
	filesSoftDeleted prometheus.Counter
	filesDeleted     *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ filestore.EventSink = (*Metrics)(nil)

// New creates and registers the metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "created_total",
			Help:      "Total number of stored files",
		}),
		bytesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "created_bytes_total",
			Help:      "Total declared content length of stored files",
		}),
		filesSoftDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "soft_deleted_total",
			Help:      "Total number of files flagged deleted",
		}),
		filesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "deleted_total",
			Help:      "Total number of hard deleted files, by whether their blob was reclaimed",
		}, []string{LabelBlobRemoved}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{LabelMethod, LabelRoute, LabelStatus}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelMethod, LabelRoute}),
	}

	if registry != nil {
		registry.MustRegister(
			m.filesCreated,
			m.bytesCreated,
			m.filesSoftDeleted,
			m.filesDeleted,
			m.requestsTotal,
			m.requestDuration,
		)
	}

	return m
}

func (m *Metrics) FileCreated(ctx context.Context, record *filestore.FileRecord) error {
	m.filesCreated.Inc()
	if record.ContentLength > 0 {
		m.bytesCreated.Add(float64(record.ContentLength))
	}
	return nil
}

func (m *Metrics) FileSoftDeleted(ctx context.Context, id string) error {
	m.filesSoftDeleted.Inc()
	return nil
}

func (m *Metrics) FileDeleted(ctx context.Context, id, hash string, blobRemoved bool) error {
	m.filesDeleted.WithLabelValues(strconv.FormatBool(blobRemoved)).Inc()
	return nil
}

// Middleware records request counts and durations labeled with the matched
// chi route pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
