package metrics

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/modfin/utskick/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Poll         bool
	PollUser     string
	PollPassword string
}

func New(c Config, lc *tools.Logger) *Metrics {
	m := &Metrics{
		config: c,
		logger: lc.New("prometheus"),
	}

	factory := promauto.With(prometheus.DefaultRegisterer)
	m.Emails = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "utskick_emails_total",
		Help: "Delivery outcomes per bunch.",
	}, []string{"bunch", "outcome"})
	m.SendDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "utskick_send_duration_seconds",
		Help:    "Duration of one message delivery, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.RunDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "utskick_run_duration_seconds",
		Help:    "Duration of one bulk run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	return m
}

type Metrics struct {
	config Config
	logger *logrus.Logger

	Emails       *prometheus.CounterVec
	SendDuration prometheus.Histogram
	RunDuration  prometheus.Histogram
}

func (m *Metrics) HttpMetrics() http.HandlerFunc {
	if !m.config.Poll {
		m.logger.Infof("metrics polling is disabled")
		return func(writer http.ResponseWriter, request *http.Request) {
			http.Error(writer, "Not Found", http.StatusNotFound)
		}
	}
	m.logger.Infof("metrics polling is enabled")

	return func(writer http.ResponseWriter, request *http.Request) {
		if m.config.PollUser != "" || m.config.PollPassword != "" {
			user, pass, ok := request.BasicAuth()
			if !ok || user != m.config.PollUser ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(m.config.PollPassword)) != 1 {
				http.Error(writer, "Unauthorized.", http.StatusUnauthorized)
				return
			}
		}
		promhttp.Handler().ServeHTTP(writer, request)
	}
}

func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	requests := promauto.With(prometheus.DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests",
		Help: "Number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	requestDuration := promauto.With(prometheus.DefaultRegisterer).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"method", "path", "status_code"})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			statusCode := strconv.Itoa(wrapped.statusCode)
			requests.WithLabelValues(r.Method, r.URL.Path, statusCode).Inc()
			if statusCode != "404" {
				requestDuration.WithLabelValues(r.Method, r.URL.Path, statusCode).
					Observe(time.Since(startTime).Seconds())
			}
		})
	}
}

// responseWriterWrapper wraps the http.ResponseWriter to capture the status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
