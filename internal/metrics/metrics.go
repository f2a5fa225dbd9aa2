package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the emulator's Prometheus collectors. Each server owns its
// own registry so several instances can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	Ticks          prometheus.Counter
	TicksSkipped   prometheus.Counter
	FramesOut      *prometheus.CounterVec
	Echoed         prometheus.Counter
	DecodeErrors   prometheus.Counter
	Subscribers    prometheus.Gauge
	SlowDrops      prometheus.Counter
	Connections    *prometheus.CounterVec
	StreamDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "piksi_solution_ticks_total",
			Help: "Total number of solution ticks published.",
		}),
		TicksSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "piksi_solution_ticks_skipped_total",
			Help: "Total number of solution ticks dropped on encode errors.",
		}),
		FramesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "piksi_frames_published_total",
			Help: "Total number of SBP frames published to the broadcast stream.",
		}, []string{"kind"}),
		Echoed: f.NewCounter(prometheus.CounterOpts{
			Name: "piksi_observations_echoed_total",
			Help: "Total number of inbound observations echoed to the stream.",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "piksi_decode_errors_total",
			Help: "Total number of malformed inbound byte runs skipped.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "piksi_stream_subscribers",
			Help: "Current number of attached stream subscribers.",
		}),
		SlowDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "piksi_stream_slow_drops_total",
			Help: "Total number of subscribers dropped for falling behind.",
		}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "piksi_connections_total",
			Help: "Total number of stream connections by transport.",
		}, []string{"transport"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "piksi_stream_duration_seconds",
			Help:    "Lifetime of stream connections in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "piksi_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"path", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "piksi_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack is needed by websocket upgrades, which assert http.Hijacker
// directly.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	c, brw, err := h.Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return c, brw, err
}

// Unwrap lets http.ResponseController reach Flush/Hijack/full duplex on the
// underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		m.HTTPRequests.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		m.HTTPDuration.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}
