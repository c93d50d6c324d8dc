package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "userhub"

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Auth
	AuthEventsTotal *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec

	// Sweeper (worker)
	SweepRuns          *prometheus.CounterVec
	SweptRefreshTokens prometheus.Counter
}

func NewProm(reg prometheus.Registerer) *Prom {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Prom{
		RequestsTotal: counter("http", "requests_total", "HTTP requests by route and status.",
			"method", "route", "status"),
		RequestsDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			// password hashing puts login around 50-100ms
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		}, []string{"method", "route"}),

		DbQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Store operation latency by logical op.",
			Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
		}, []string{"op", "status"}),
		DbErrorsTotal: counter("db", "errors_total", "Store errors by logical op and class.",
			"op", "class"),

		AuthEventsTotal: counter("auth", "events_total", "Login, refresh and logout outcomes.",
			"op", "result"),
		RateLimited: counter("auth", "rate_limited_total", "Requests rejected by the rate limiter.",
			"route"),

		SweepRuns: counter("sweeper", "runs_total", "Refresh token sweeps by result (ok|error).",
			"result"),
		SweptRefreshTokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "cleared_refresh_tokens_total",
			Help:      "Expired refresh tokens cleared.",
		}),
	}
}

// AuthEvent implements authz.Recorder.
func (p *Prom) AuthEvent(op, result string) {
	p.AuthEventsTotal.WithLabelValues(op, result).Inc()
}

func (p *Prom) RateLimitHit(route string) {
	p.RateLimited.WithLabelValues(route).Inc()
}

func (p *Prom) ObserveSweep(cleared int64, err error) {
	if err != nil {
		p.SweepRuns.WithLabelValues("error").Inc()
		return
	}
	p.SweepRuns.WithLabelValues("ok").Inc()
	p.SweptRefreshTokens.Add(float64(cleared))
}

// GinHandleMiddleware records count, latency and in-flight gauges per route
// template. Requests that matched no route share the "unmatched" label.
func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		inFlight := p.InFlight.WithLabelValues(method, route)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}
