package metrics

import (
	"sync"
	"time"
)

// 流水线阶段
const (
	StageFetch    = "fetch"
	StageParse    = "parse"
	StageBuild    = "build"
	StageValidate = "validate"
	StagePersist  = "persist"
	StageExport   = "export"
)

const maxRecentActivity = 100

// ProcessingMetrics 进程内处理指标快照
type ProcessingMetrics struct {
	TotalProcessed    int64                   `json:"total_processed"`
	SuccessCount      int64                   `json:"success_count"`
	ErrorCount        int64                   `json:"error_count"`
	SuccessRate       float64                 `json:"success_rate"`
	StageMetrics      map[string]StageMetrics `json:"stage_metrics"`
	ErrorDistribution map[string]int64        `json:"error_distribution"`
	RecentActivity    []ActivityRecord        `json:"recent_activity"`
	Timestamp         time.Time               `json:"timestamp"`
}

// StageMetrics 阶段指标
type StageMetrics struct {
	Count        int64         `json:"count"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	SuccessRate  float64       `json:"success_rate"`
	Timings      int64         `json:"timings"`
	AvgDuration  time.Duration `json:"avg_duration"`
	MinDuration  time.Duration `json:"min_duration"`
	MaxDuration  time.Duration `json:"max_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// ActivityRecord 活动记录
type ActivityRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Stage     string        `json:"stage"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// StageCollector 各阶段耗时与成败统计，并发安全
type StageCollector struct {
	metrics ProcessingMetrics
	mutex   sync.RWMutex
}

// NewStageCollector 创建阶段统计
func NewStageCollector() *StageCollector {
	c := &StageCollector{}
	c.Reset()
	return c
}

// RecordProcessingDuration 记录阶段耗时
func (c *StageCollector) RecordProcessingDuration(stage string, duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	sm := c.metrics.StageMetrics[stage]
	sm.Timings++
	if sm.MinDuration == 0 || duration < sm.MinDuration {
		sm.MinDuration = duration
	}
	if duration > sm.MaxDuration {
		sm.MaxDuration = duration
	}
	total := sm.AvgDuration * time.Duration(sm.Timings-1)
	sm.AvgDuration = (total + duration) / time.Duration(sm.Timings)
	c.metrics.StageMetrics[stage] = sm

	c.addActivity(stage, "duration_recorded", duration, "")
}

// RecordSuccess 记录阶段成功
func (c *StageCollector) RecordSuccess(stage string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.metrics.TotalProcessed++
	c.metrics.SuccessCount++
	c.metrics.SuccessRate = float64(c.metrics.SuccessCount) / float64(c.metrics.TotalProcessed)

	sm := c.metrics.StageMetrics[stage]
	sm.Count++
	sm.SuccessCount++
	sm.SuccessRate = float64(sm.SuccessCount) / float64(sm.Count)
	c.metrics.StageMetrics[stage] = sm

	c.addActivity(stage, "success", 0, "")
}

// RecordError 记录阶段失败
func (c *StageCollector) RecordError(stage string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.metrics.TotalProcessed++
	c.metrics.ErrorCount++
	c.metrics.SuccessRate = float64(c.metrics.SuccessCount) / float64(c.metrics.TotalProcessed)

	message := "unknown"
	if err != nil {
		message = err.Error()
	}
	c.metrics.ErrorDistribution[message]++

	sm := c.metrics.StageMetrics[stage]
	sm.Count++
	sm.ErrorCount++
	sm.SuccessRate = float64(sm.SuccessCount) / float64(sm.Count)
	sm.LastError = message
	c.metrics.StageMetrics[stage] = sm

	c.addActivity(stage, "error", 0, message)
}

// GetMetrics 返回快照副本
func (c *StageCollector) GetMetrics() ProcessingMetrics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	snapshot := ProcessingMetrics{
		TotalProcessed:    c.metrics.TotalProcessed,
		SuccessCount:      c.metrics.SuccessCount,
		ErrorCount:        c.metrics.ErrorCount,
		SuccessRate:       c.metrics.SuccessRate,
		Timestamp:         time.Now(),
		StageMetrics:      make(map[string]StageMetrics, len(c.metrics.StageMetrics)),
		ErrorDistribution: make(map[string]int64, len(c.metrics.ErrorDistribution)),
		RecentActivity:    make([]ActivityRecord, len(c.metrics.RecentActivity)),
	}
	for k, v := range c.metrics.StageMetrics {
		snapshot.StageMetrics[k] = v
	}
	for k, v := range c.metrics.ErrorDistribution {
		snapshot.ErrorDistribution[k] = v
	}
	copy(snapshot.RecentActivity, c.metrics.RecentActivity)
	return snapshot
}

// Reset 清空统计
func (c *StageCollector) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.metrics = ProcessingMetrics{
		StageMetrics:      make(map[string]StageMetrics),
		ErrorDistribution: make(map[string]int64),
		RecentActivity:    make([]ActivityRecord, 0, maxRecentActivity),
		Timestamp:         time.Now(),
	}
}

// addActivity 保留最近的活动记录
func (c *StageCollector) addActivity(stage, status string, duration time.Duration, errorMsg string) {
	c.metrics.RecentActivity = append(c.metrics.RecentActivity, ActivityRecord{
		Timestamp: time.Now(),
		Stage:     stage,
		Status:    status,
		Duration:  duration,
		Error:     errorMsg,
	})
	if len(c.metrics.RecentActivity) > maxRecentActivity {
		c.metrics.RecentActivity = c.metrics.RecentActivity[1:]
	}
}
