/*
Package metrics exports vaultstore activity to Prometheus.

# Overview

A Collector owns a private Prometheus registry and an in-memory per-operation summary.
The coordinator reports every file operation to it; the monitoring system reports
security events, alerts and system snapshots.

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼─────────┐
	│  Prometheus  │         │  HTTP Endpoints   │
	│   Registry   │         │  /metrics         │
	│              │         │  /health          │
	│ - Counters   │         │  /debug/operations│
	│ - Histograms │         └───────────────────┘
	│ - Gauges     │
	└──────────────┘

# Metrics

All names are prefixed with the configured namespace (default "vaultstore"):

	operations_total{operation,status}       create_file, read_file, write_file, recover
	operation_duration_seconds{operation}    histogram
	operation_size_bytes{operation}          histogram of payload sizes
	errors_total{operation,code}             failures by error code
	cache_requests_total{result}             hit or miss
	security_events_total{type,outcome}      session decisions
	alerts_total{source}                     security or metrics alerts
	system{metric}                           gauges from the latest SystemMetrics

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Addr:      ":9464",
		Namespace: "vaultstore",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	collector.RecordOperation("read_file", time.Since(start), int64(len(data)), err)

Start is a no-op when no address is configured, so the registry can be gathered
directly in tests or embedded in a host's own HTTP server through Handler.
*/
package metrics
