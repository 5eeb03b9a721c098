package datadog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvload/internal/metrics"
)

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	assert.Nil(t, labelsToTags(nil))
	assert.Equal(t,
		[]string{"job:customers", "stage:load", "status:success"},
		labelsToTags(metrics.Labels{"status": "success", "job": "customers", "stage": "load"}))
}

func TestNewBackendRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(Config{})
	assert.ErrorContains(t, err, "Addr is required")
}

func TestZeroBackendIsSafe(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	assert.NotPanics(t, func() {
		b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "loaded"})
		b.ObserveHistogram(metrics.StageDuration, 0.5, nil)
	})
	assert.NoError(t, b.Flush())
}

func TestSendsToAgent(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	b, err := NewBackend(Config{Addr: conn.LocalAddr().String(), Namespace: "csvload.", GlobalTags: []string{"env:test"}})
	require.NoError(t, err)

	b.IncCounter(metrics.RowsTotal, 16, metrics.Labels{"job": "customers", "kind": "extracted"})
	require.NoError(t, b.Flush())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	payload := string(buf[:n])
	assert.True(t, strings.HasPrefix(payload, "csvload.csvload_rows_total:16|c"), payload)
	assert.Contains(t, payload, "env:test")
	assert.Contains(t, payload, "kind:extracted")
}
