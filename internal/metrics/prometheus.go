// Package metrics 提供导入流水线的Prometheus指标和进程内阶段统计
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freedkr/bc3tree/internal/builder"
	"github.com/freedkr/bc3tree/internal/model"
)

const namespace = "bc3tree"

// Metrics Prometheus指标集合，注册到独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal      *prometheus.CounterVec
	skippedRecords    *prometheus.CounterVec
	relationsTotal    *prometheus.CounterVec
	measurementsTotal *prometheus.CounterVec
	importsTotal      *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	treeNodes         prometheus.Histogram
	inFlight          prometheus.Gauge

	stages *StageCollector
}

// New 创建指标集合并注册到新的 Registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of BC3 records read, by record type.",
		}, []string{"type"}),
		skippedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_records_total",
			Help:      "Total number of BC3 records skipped, by reason.",
		}, []string{"reason"}),
		relationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_total",
			Help:      "Candidate parent/child relations processed by the tree builder, by result.",
		}, []string{"result"}),
		measurementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Measurements processed by the tree builder, by result.",
		}, []string{"result"}),
		importsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Total number of imports, by final status.",
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of import pipeline stages.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.5, 1, 2, 5, 10, 30,
			},
		}, []string{"stage", "result"}),
		treeNodes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_nodes",
			Help:      "Number of nodes in built trees.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imports_in_flight",
			Help:      "Number of imports currently running.",
		}),
		stages: NewStageCollector(),
	}
}

// Registry 底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Stages 进程内阶段统计
func (m *Metrics) Stages() *StageCollector {
	return m.stages
}

// ObserveParse 记录解析结果
func (m *Metrics) ObserveParse(result *model.ParseResult) {
	if m == nil || result == nil {
		return
	}
	for recordType, n := range result.Metadata.RecordCounts {
		m.recordsTotal.WithLabelValues(recordType).Add(float64(n))
	}
	m.skippedRecords.WithLabelValues("malformed").Add(float64(result.Stats.MalformedRecords))
	m.skippedRecords.WithLabelValues("unknown").Add(float64(result.Stats.UnknownRecords))
}

// ObserveBuild 记录构建统计
func (m *Metrics) ObserveBuild(stats *builder.BuildStats) {
	if m == nil || stats == nil {
		return
	}
	m.relationsTotal.WithLabelValues("committed").Add(float64(stats.CommittedRelations))
	m.relationsTotal.WithLabelValues("rejected_self").Add(float64(stats.RejectedSelf))
	m.relationsTotal.WithLabelValues("rejected_cycle").Add(float64(stats.RejectedCycle))
	m.relationsTotal.WithLabelValues("rejected_conflict").Add(float64(stats.RejectedConflict))
	m.relationsTotal.WithLabelValues("missing_endpoint").Add(float64(stats.MissingEndpoints))
	m.measurementsTotal.WithLabelValues("attached").Add(float64(stats.MeasurementsAttached))
	m.measurementsTotal.WithLabelValues("not_found").Add(float64(stats.MeasurementsNotFound))
	m.measurementsTotal.WithLabelValues("context_mismatch").Add(float64(stats.MeasurementsMismatched))
	m.treeNodes.Observe(float64(stats.Nodes))
}

// ObserveStage 记录阶段耗时与结果
func (m *Metrics) ObserveStage(stage string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(duration.Seconds())
	m.stages.RecordProcessingDuration(stage, duration)
	if err != nil {
		m.stages.RecordError(stage, err)
		return
	}
	m.stages.RecordSuccess(stage)
}

// ImportStarted 导入开始
func (m *Metrics) ImportStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// ImportFinished 导入结束，status 为最终任务状态
func (m *Metrics) ImportFinished(status string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.importsTotal.WithLabelValues(status).Inc()
}
