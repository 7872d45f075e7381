package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TerminalStarted()
		m.Input(3)
		m.Dropped(1)
		m.Signal("SIGINT")
		m.Request("TCGETA", "success")
		m.ConnectionOpened("master", "unix")()
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TerminalStarted()
	m.TerminalStarted()
	m.TerminalExited()
	m.Input(10)
	m.Dropped(2)
	m.Signal("SIGINT")
	m.ReadCompleted("success")
	m.Request("TIOCSPGRP", "permission denied")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TerminalsTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.InputBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DroppedInput))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Signals.WithLabelValues("SIGINT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("TIOCSPGRP", "permission denied")))

	done := m.ConnectionOpened("slave", "websocket")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("slave", "websocket")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connections.WithLabelValues("slave", "websocket")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Input(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "terminald_input_bytes_total 5")
}
