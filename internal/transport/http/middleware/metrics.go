package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no route matched, keeping raw paths out of label values.
const unmatchedRoute = "unmatched"

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// HTTPMetrics records storefront API traffic per auth flow.
type HTTPMetrics struct {
	// Requests counts requests by flow, method, route and status.
	Requests *prometheus.CounterVec
	// Duration observes latency by flow and route.
	Duration *prometheus.HistogramVec
	// InFlight tracks running requests per flow.
	InFlight *prometheus.GaugeVec
	// Rejections counts requests answered with a machine readable error code, by flow and code.
	Rejections *prometheus.CounterVec
}

// NewHTTPMetrics registers the collectors, reusing any already registered under the same names.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "storefront"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	}

	var (
		m   HTTPMetrics
		err error
	)
	m.Requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by auth flow, method, route template and status code.",
	}, []string{"flow", "method", "route", "status"}))
	if err != nil {
		return nil, err
	}
	m.Duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by auth flow and route template.",
		Buckets:   buckets,
	}, []string{"flow", "route"}))
	if err != nil {
		return nil, err
	}
	m.InFlight, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "HTTP requests currently being served, by auth flow.",
	}, []string{"flow"}))
	if err != nil {
		return nil, err
	}
	m.Rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rejections_total",
		Help:      "HTTP requests rejected with an error code, by auth flow and code.",
	}, []string{"flow", "code"}))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	already, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return collector, fmt.Errorf("register collector: %w", err)
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
	}
	return existing, nil
}

// Handler returns a Gin middleware that records the HTTP metrics. It must run after Scope.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		flow := string(FlowOf(route))

		inFlight := m.InFlight.WithLabelValues(flow)
		inFlight.Inc()
		defer inFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.Requests.WithLabelValues(flow, c.Request.Method, route, status).Inc()
		m.Duration.WithLabelValues(flow, route).Observe(time.Since(start).Seconds())
		if code := CurrentScope(c).ErrorCode; code != "" {
			m.Rejections.WithLabelValues(flow, code).Inc()
		}
	}
}
