package synctree

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics registers the counters/gauges of §12.4. A nil *Metrics is valid:
// every recording method and Shutdown are no-ops against it (Serve returns an
// error), so callers that construct a Server without metrics (most tests)
// never need a sentinel.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	routeMatches     *prometheus.CounterVec
	childrenTotal    prometheus.Gauge
	forwardErrors    *prometheus.CounterVec

	httpServer *http.Server
}

// NewMetrics registers the synctree_* collectors against reg (use
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synctree_requests_total",
			Help: "Total number of requests dispatched, by method and status.",
		}, []string{"method", "status"}),
		routeMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synctree_route_matches_total",
			Help: "Total number of requests matched per route name.",
		}, []string{"route"}),
		childrenTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "synctree_children_total",
			Help: "Current number of child processes tracked by the process manager.",
		}),
		forwardErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synctree_forward_errors_total",
			Help: "Total number of forwarding-worker failures, by stage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) recordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) recordRouteMatch(route string) {
	if m == nil || route == "" {
		return
	}
	m.routeMatches.WithLabelValues(route).Inc()
}

func (m *Metrics) setChildrenTotal(n int) {
	if m == nil {
		return
	}
	m.childrenTotal.Set(float64(n))
}

func (m *Metrics) recordForwardError(stage string) {
	if m == nil {
		return
	}
	m.forwardErrors.WithLabelValues(stage).Inc()
}

// Serve starts the tiny ambient /metrics HTTP listener described in §12.4.
// This is the one deliberate, documented use of net/http in the whole
// module: it is pure operational tooling, outside the hand-rolled core.
func (m *Metrics) Serve(addr string) error {
	if m == nil {
		return errors.New("metrics not configured")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.httpServer = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting metrics listener on %q: %w", addr, err)
	}
	return m.httpServer.Serve(ln)
}

// Shutdown stops the metrics HTTP listener, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.httpServer == nil {
		return nil
	}
	return m.httpServer.Shutdown(ctx)
}
