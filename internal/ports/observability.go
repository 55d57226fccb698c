package ports

import "context"

// MetricsCollector records quantitative observability signals. The
// interface is intentionally generic so adapters can back onto Prometheus
// or another backend. Standard metric names (see internal/metrics) include:
//   - Counters:
//     pipelinectl_executions_total{status="completed|failed|cancelled|rolled_back"}
//     pipelinectl_stage_executions_total{kind="...", status="completed|failed|skipped"}
//     pipelinectl_admission_rejections_total{reason="duplicate_run|risk_blocked"}
//   - Gauges:
//     pipelinectl_active_executions
//     pipelinectl_coordination_health{state="healthy|degraded|unreachable"}
//   - Histograms:
//     pipelinectl_execution_duration_seconds
//     pipelinectl_stage_duration_seconds{kind="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}
