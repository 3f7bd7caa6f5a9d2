// Package monitoring keeps the append-only security event and metrics logs and dispatches
// alerts to registered callbacks.
package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/metrics"
	"github.com/objectfs/vaultstore/pkg/types"
)

// Alert sources.
const (
	SourceSecurity = "security"
	SourceMetrics  = "metrics"
)

// DefaultMinCacheLookups is the number of cache lookups required before the hit rate
// threshold is evaluated.
const DefaultMinCacheLookups = 100

// Alert is the payload handed to alert callbacks.
type Alert struct {
	ID        string               `json:"id"`
	Source    string               `json:"source"`
	Message   string               `json:"message"`
	Event     *types.SecurityEvent `json:"event,omitempty"`
	Metrics   *types.SystemMetrics `json:"metrics,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// AlertCallback receives alerts synchronously. A returned error or panic is logged and
// does not affect other callbacks or the recording call.
type AlertCallback func(Alert) error

// Config configures alert thresholds.
type Config struct {
	// MaxFailedOperations alerts when a snapshot reports at least this many failed
	// operations. Zero disables the check.
	MaxFailedOperations uint64
	// MinCacheHitRate alerts when the hit rate falls below it. Zero disables the check.
	MinCacheHitRate float64
	MinCacheLookups uint64

	// Collector, when set, mirrors events, snapshots and alerts to Prometheus.
	Collector *metrics.Collector
	Logger    *zap.Logger
	Now       func() time.Time
}

// System records security events and metric snapshots.
type System struct {
	mu        sync.Mutex
	events    []types.SecurityEvent
	metrics   []types.SystemMetrics
	callbacks []AlertCallback

	config Config
	logger *zap.Logger
}

// NewSystem creates a monitoring system.
func NewSystem(config Config) *System {
	if config.MinCacheLookups == 0 {
		config.MinCacheLookups = DefaultMinCacheLookups
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &System{
		config: config,
		logger: config.Logger,
	}
}

// RegisterAlertCallback adds cb to the callbacks invoked on every alert.
func (s *System) RegisterAlertCallback(cb AlertCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// RecordSecurityEvent appends event to the log. A failed event raises an alert.
func (s *System) RecordSecurityEvent(event types.SecurityEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	if s.config.Collector != nil {
		s.config.Collector.RecordSecurityEvent(event)
	}

	if event.Success {
		return
	}
	e := event
	s.dispatch(Alert{
		Source:  SourceSecurity,
		Message: fmt.Sprintf("security event %s for user %q", event.Type, event.UserID),
		Event:   &e,
	})
}

// RecordMetrics appends m to the log and raises an alert when a threshold is crossed.
func (s *System) RecordMetrics(m types.SystemMetrics) {
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()

	if s.config.Collector != nil {
		s.config.Collector.UpdateSystem(m)
	}

	msg, breached := s.checkThresholds(m)
	if !breached {
		return
	}
	snapshot := m
	s.dispatch(Alert{
		Source:  SourceMetrics,
		Message: msg,
		Metrics: &snapshot,
	})
}

// SecurityEvents returns a copy of the event log.
func (s *System) SecurityEvents() []types.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SecurityEvent(nil), s.events...)
}

// Metrics returns a copy of the metrics log.
func (s *System) Metrics() []types.SystemMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SystemMetrics(nil), s.metrics...)
}

func (s *System) checkThresholds(m types.SystemMetrics) (string, bool) {
	if limit := s.config.MaxFailedOperations; limit > 0 && m.FailedOperations >= limit {
		return fmt.Sprintf("%d failed operations (threshold %d)", m.FailedOperations, limit), true
	}

	lookups := m.CacheHits + m.CacheMisses
	if floor := s.config.MinCacheHitRate; floor > 0 && lookups >= s.config.MinCacheLookups && m.CacheHitRate < floor {
		return fmt.Sprintf("cache hit rate %.2f below %.2f after %d lookups", m.CacheHitRate, floor, lookups), true
	}
	return "", false
}

func (s *System) dispatch(alert Alert) {
	alert.ID = uuid.NewString()
	alert.Timestamp = s.config.Now()

	s.mu.Lock()
	callbacks := append([]AlertCallback(nil), s.callbacks...)
	s.mu.Unlock()

	s.logger.Warn("Alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("source", alert.Source),
		zap.String("message", alert.Message))

	if s.config.Collector != nil {
		s.config.Collector.RecordAlert(alert.Source)
	}

	for i, cb := range callbacks {
		s.invoke(i, cb, alert)
	}
}

func (s *System) invoke(index int, cb AlertCallback, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Alert callback panicked",
				zap.Int("callback", index),
				zap.String("alert_id", alert.ID),
				zap.Any("panic", r))
		}
	}()

	if err := cb(alert); err != nil {
		s.logger.Error("Alert callback failed",
			zap.Int("callback", index),
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}
