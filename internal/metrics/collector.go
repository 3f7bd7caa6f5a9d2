package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

// Collector exports store activity as Prometheus metrics and keeps a per-operation summary
// for the debug endpoint.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	cacheCounter      *prometheus.CounterVec
	securityCounter   *prometheus.CounterVec
	alertCounter      *prometheus.CounterVec
	systemGauge       *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`

	Logger *zap.Logger `yaml:"-"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "vaultstore",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := &Collector{
		config:     config,
		logger:     logger,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves the metrics endpoint on config.Addr until Stop is called. It is a no-op
// when disabled or when no address is configured.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Addr == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:              c.config.Addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", zap.String("addr", c.config.Addr), zap.Error(err))
		}
	}()

	c.logger.Info("Metrics endpoint listening", zap.String("addr", c.config.Addr), zap.String("path", c.config.Path))
	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one coordinator operation. A non-nil err counts as a failure and
// is classified by its error code.
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, err error) {
	success := err == nil

	c.mu.Lock()
	if metrics, exists := c.operations[operation]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		metrics.TotalSize += size
		if !success {
			metrics.Errors++
		}
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
		metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	} else {
		metrics := &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalSize:     size,
			LastOperation: time.Now(),
			AvgDuration:   duration,
			AvgSize:       float64(size),
		}
		if !success {
			metrics.Errors = 1
		}
		c.operations[operation] = metrics
	}
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.WithLabelValues(operation).Observe(float64(size))
	}
	if !success {
		c.errorCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
	}
}

// RecordCacheLookup records a cache hit or miss
func (c *Collector) RecordCacheLookup(hit bool) {
	if !c.config.Enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheCounter.WithLabelValues(result).Inc()
}

// RecordSecurityEvent counts a security decision by type and outcome.
func (c *Collector) RecordSecurityEvent(event types.SecurityEvent) {
	if !c.config.Enabled {
		return
	}
	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	c.securityCounter.WithLabelValues(string(event.Type), outcome).Inc()
}

// RecordAlert counts a dispatched alert by source.
func (c *Collector) RecordAlert(source string) {
	if !c.config.Enabled {
		return
	}
	c.alertCounter.WithLabelValues(source).Inc()
}

// UpdateSystem sets the point-in-time gauges from a metrics snapshot.
func (c *Collector) UpdateSystem(m types.SystemMetrics) {
	if !c.config.Enabled {
		return
	}
	c.systemGauge.WithLabelValues("files").Set(float64(m.FileCount))
	c.systemGauge.WithLabelValues("cache_entries").Set(float64(m.CacheEntries))
	c.systemGauge.WithLabelValues("cache_hit_rate").Set(m.CacheHitRate)
	c.systemGauge.WithLabelValues("active_sessions").Set(float64(m.ActiveSessions))
	c.systemGauge.WithLabelValues("active_locks").Set(float64(m.ActiveLocks))
	c.systemGauge.WithLabelValues("active_transactions").Set(float64(m.ActiveTransactions))
}

// GetMetrics returns a copy of the per-operation summary.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics resets the per-operation summary. Prometheus counters are not reset.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operations_total",
			Help:      "Total number of file operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_duration_seconds",
			Help:      "Duration of file operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_size_bytes",
			Help:      "Payload size of file operations in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12), // 64B to ~268MB
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Total number of failed operations by error code",
		},
		[]string{"operation", "code"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_requests_total",
			Help:      "Total number of cache lookups",
		},
		[]string{"result"},
	)

	c.securityCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "security_events_total",
			Help:      "Total number of security decisions",
		},
		[]string{"type", "outcome"},
	)

	c.alertCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "alerts_total",
			Help:      "Total number of alerts dispatched",
		},
		[]string{"source"},
	)

	c.systemGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "system",
			Help:      "Point-in-time store state",
		},
		[]string{"metric"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
		c.cacheCounter,
		c.securityCounter,
		c.alertCounter,
		c.systemGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"vaultstore-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     time.Since(lastReset).String(),
		"last_reset": lastReset,
		"operations": c.GetMetrics(),
	})
}
