package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// AssignmentRuns counts engine runs by outcome
	AssignmentRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignment_runs_total", Help: "Assignment engine runs by outcome."},
		[]string{"outcome"},
	)
	// OrdersAssigned counts orders committed by the engine
	OrdersAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "orders_assigned_total", Help: "Orders committed by the assignment engine."},
	)
	// OrdersUnassigned counts orders left pending by reason
	OrdersUnassigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_unassigned_total", Help: "Orders left pending after a run, by reason."},
		[]string{"reason"},
	)
	// RunDuration tracks engine run wall time
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "assignment_run_duration_seconds", Help: "Engine run duration in seconds.", Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30}},
	)

	// GeocodeLookups counts geocoder lookups by result (hit/resolved/miss/error)
	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_lookups_total", Help: "Geocoder lookups by result."},
		[]string{"result"},
	)

	// NotifyDeliveries counts notification delivery outcomes by event type and status
	NotifyDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notify_deliveries_total", Help: "Notification deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// NotifyLatency tracks notification delivery latencies in milliseconds
	NotifyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "notify_delivery_latency_ms", Help: "Notification delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(AssignmentRuns)
		Registry.MustRegister(OrdersAssigned)
		Registry.MustRegister(OrdersUnassigned)
		Registry.MustRegister(RunDuration)
		Registry.MustRegister(GeocodeLookups)
		Registry.MustRegister(NotifyDeliveries)
		Registry.MustRegister(NotifyLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
