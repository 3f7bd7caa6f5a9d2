package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "vaultstore", Subsystem: "test"})
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil)
		require.NoError(t, err)
		assert.True(t, c.config.Enabled)
		assert.Equal(t, "/metrics", c.config.Path)
		assert.Equal(t, "vaultstore", c.config.Namespace)
		assert.NotNil(t, c.Registry())
	})

	t.Run("disabled collector still tracks operations", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false})
		require.NoError(t, err)
		assert.Nil(t, c.Registry())

		c.RecordOperation("read_file", time.Millisecond, 10, nil)
		c.RecordCacheLookup(true)
		c.RecordSecurityEvent(types.SecurityEvent{Type: types.EventSessionCreated, Success: true})
		c.RecordAlert("security")
		c.UpdateSystem(types.SystemMetrics{FileCount: 1})

		assert.Equal(t, int64(1), c.GetMetrics()["read_file"].Count)
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordOperation("create_file", 2*time.Millisecond, 100, nil)
	c.RecordOperation("create_file", 4*time.Millisecond, 300, nil)
	c.RecordOperation("create_file", time.Millisecond, 0,
		errors.New(errors.ErrCodeIOFailure, "disk full"))
	c.RecordOperation("write_file", time.Millisecond, 0, fmt.Errorf("plain"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("create_file", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("create_file", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("create_file", "IO_FAILURE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("write_file", "INTERNAL_ERROR")))

	summary := c.GetMetrics()["create_file"]
	assert.Equal(t, int64(3), summary.Count)
	assert.Equal(t, int64(1), summary.Errors)
	assert.Equal(t, int64(400), summary.TotalSize)
	assert.InDelta(t, 400.0/3.0, summary.AvgSize, 1e-9)

	c.ResetMetrics()
	assert.Empty(t, c.GetMetrics())
}

func TestRecordCacheAndSecurity(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordCacheLookup(true)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordSecurityEvent(types.SecurityEvent{Type: types.EventSessionCreated, Success: true})
	c.RecordSecurityEvent(types.SecurityEvent{Type: types.EventSessionRejected})
	c.RecordAlert("metrics")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheCounter.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheCounter.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.securityCounter.WithLabelValues("session_created", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.securityCounter.WithLabelValues("session_rejected", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertCounter.WithLabelValues("metrics")))
}

func TestUpdateSystem(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.UpdateSystem(types.SystemMetrics{
		FileCount:          7,
		CacheEntries:       3,
		CacheHitRate:       0.5,
		ActiveSessions:     2,
		ActiveLocks:        1,
		ActiveTransactions: 4,
	})

	assert.Equal(t, 7.0, testutil.ToFloat64(c.systemGauge.WithLabelValues("files")))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.systemGauge.WithLabelValues("cache_hit_rate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.systemGauge.WithLabelValues("active_transactions")))
}

func TestHandler(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.RecordOperation("read_file", time.Millisecond, 5, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `vaultstore_test_operations_total{operation="read_file",status="success"} 1`))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/debug/operations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var debug struct {
		Operations map[string]OperationMetrics `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&debug))
	assert.Equal(t, int64(1), debug.Operations["read_file"].Count)
}

func TestStartWithoutAddrIsNoop(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	require.NoError(t, c.Start(t.Context()))
	assert.Nil(t, c.server)
	assert.NoError(t, c.Stop(t.Context()))
}
