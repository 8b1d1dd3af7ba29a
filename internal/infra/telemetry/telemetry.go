package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetricsOptions configures the auth flow collectors.
type AuthMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// AuthMetrics counts auth flow outcomes and tracks live device graphs.
type AuthMetrics struct {
	Attempts      *prometheus.CounterVec
	ActiveDevices prometheus.Gauge
}

// NewAuthMetrics constructs the collectors and registers them with the provided registerer.
func NewAuthMetrics(opts AuthMetricsOptions) (*AuthMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "storefront"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "operations_total",
		Help:      "Auth flow operations partitioned by flow, operation, and outcome.",
	}, []string{"flow", "operation", "outcome"})

	if err := reg.Register(attempts); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register auth operations collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing auth operations collector has unexpected type %T", already.ExistingCollector)
		}
		attempts = existing
	}

	devices := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "active_devices",
		Help:      "Number of devices with a live auth state in this process.",
	})

	if err := reg.Register(devices); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register active devices collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, fmt.Errorf("existing active devices collector has unexpected type %T", already.ExistingCollector)
		}
		devices = existing
	}

	return &AuthMetrics{Attempts: attempts, ActiveDevices: devices}, nil
}

// ObserveAuth records one completed flow operation.
func (m *AuthMetrics) ObserveAuth(flow, operation, outcome string) {
	if m == nil || m.Attempts == nil {
		return
	}
	m.Attempts.WithLabelValues(flow, operation, outcome).Inc()
}

// SetActiveDevices publishes the current device count.
func (m *AuthMetrics) SetActiveDevices(n int) {
	if m == nil || m.ActiveDevices == nil {
		return
	}
	m.ActiveDevices.Set(float64(n))
}
