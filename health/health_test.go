package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamwire/metric"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("connection", "connected to broker")
	m.UpdateDegraded("dispatcher", "queue above threshold")

	s, ok := m.Get("connection")
	require.True(t, ok)
	assert.True(t, s.IsHealthy())
	assert.False(t, s.Timestamp.IsZero())

	assert.Equal(t, 2, m.Count())
	m.Remove("dispatcher")
	assert.Equal(t, 1, m.Count())
}

func TestAggregateWorstStateWins(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("connection", "ok")

	agg := m.Aggregate("client")
	assert.True(t, agg.IsHealthy())

	m.UpdateDegraded("dispatcher", "queue filling")
	agg = m.Aggregate("client")
	assert.True(t, agg.IsDegraded())
	assert.Contains(t, agg.Message, "dispatcher")

	m.UpdateUnhealthy("connection", "reconnect loop")
	agg = m.Aggregate("client")
	assert.True(t, agg.IsUnhealthy())
	assert.Contains(t, agg.Message, "connection")
	assert.Len(t, agg.SubStatuses, 2)
}

func TestUnhealthyMessageSanitized(t *testing.T) {
	s := NewUnhealthy("connection", "dial tcp://10.0.0.5:4222 failed, token=abc123")
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[URL]")
	assert.Contains(t, s.Message, "[REDACTED]")
}

func TestHealthEndpoint(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("connection", "ok")

	registry := metric.NewMetricsRegistry()
	srv := NewServer("client", 0, m, registry)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "client", status.Component)
	assert.True(t, status.Healthy)

	m.UpdateUnhealthy("connection", "down")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 503, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamwire_")
}
