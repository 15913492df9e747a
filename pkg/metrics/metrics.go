// Package metrics exposes prometheus instrumentation for the MCP server
// and the upstream API client. A private registry is used so the process
// does not pollute (or collide with) the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared across the server.
// All methods are nil-safe so instrumentation can be omitted in tests.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	clientsCached    prometheus.Gauge
	snapshotRecords  *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_builder_mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_builder_mcp",
			Name:      "upstream_requests_total",
			Help:      "Requests to the image-builder API by method and status class.",
		}, []string{"method", "status"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_builder_mcp",
			Name:      "token_refreshes_total",
			Help:      "Client-credentials token grants by outcome.",
		}, []string{"outcome"}),
		clientsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "image_builder_mcp",
			Name:      "clients_cached",
			Help:      "Number of per-identity API clients currently cached.",
		}),
		snapshotRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "image_builder_mcp",
			Name:      "snapshot_records",
			Help:      "Records held in pagination snapshots by resource kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.toolCalls,
		m.upstreamRequests,
		m.tokenRefreshes,
		m.clientsCached,
		m.snapshotRecords,
	)
	return m
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// UpstreamRequest records one request to the image-builder API.
func (m *Metrics) UpstreamRequest(method, status string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, status).Inc()
}

// TokenRefresh records one token grant attempt.
func (m *Metrics) TokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// SetClientsCached reports the registry size.
func (m *Metrics) SetClientsCached(n int) {
	if m == nil {
		return
	}
	m.clientsCached.Set(float64(n))
}

// SetSnapshotRecords reports the total records snapshotted for a kind.
func (m *Metrics) SetSnapshotRecords(kind string, n int) {
	if m == nil {
		return
	}
	m.snapshotRecords.WithLabelValues(kind).Set(float64(n))
}
