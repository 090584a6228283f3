package model

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Severity 诊断级别
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DefaultMaxMessages 默认保留的诊断消息条数
const DefaultMaxMessages = 1000

// Diagnostic 单条诊断消息
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
}

// Diagnostics 诊断收集器：按类别计数并保留有限条消息，可选转发到logrus
type Diagnostics struct {
	mu          sync.Mutex
	counts      map[string]int
	messages    []Diagnostic
	dropped     int
	maxMessages int
	logger      logrus.FieldLogger
}

// NewDiagnostics 创建诊断收集器，logger可为nil
func NewDiagnostics(logger logrus.FieldLogger) *Diagnostics {
	return &Diagnostics{
		counts:      make(map[string]int),
		messages:    make([]Diagnostic, 0),
		maxMessages: DefaultMaxMessages,
		logger:      logger,
	}
}

// WithMaxMessages 设置保留消息上限
func (d *Diagnostics) WithMaxMessages(n int) *Diagnostics {
	if n > 0 {
		d.maxMessages = n
	}
	return d
}

// Count 只计数不记录消息
func (d *Diagnostics) Count(category string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.counts[category]++
	d.mu.Unlock()
}

// Add 计数并记录一条消息
func (d *Diagnostics) Add(severity Severity, category, code, format string, args ...interface{}) {
	if d == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	d.counts[category]++
	if len(d.messages) < d.maxMessages {
		d.messages = append(d.messages, Diagnostic{Severity: severity, Category: category, Code: code, Message: msg})
	} else {
		d.dropped++
	}
	d.mu.Unlock()

	if d.logger == nil {
		return
	}
	entry := d.logger.WithFields(logrus.Fields{"category": category, "code": code})
	switch severity {
	case SeverityDebug:
		entry.Debug(msg)
	case SeverityInfo:
		entry.Info(msg)
	case SeverityWarning:
		entry.Warn(msg)
	default:
		entry.Error(msg)
	}
}

// Warnf 记录警告
func (d *Diagnostics) Warnf(category, code, format string, args ...interface{}) {
	d.Add(SeverityWarning, category, code, format, args...)
}

// Debugf 记录调试信息
func (d *Diagnostics) Debugf(category, code, format string, args ...interface{}) {
	d.Add(SeverityDebug, category, code, format, args...)
}

// Get 返回类别计数
func (d *Diagnostics) Get(category string) int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[category]
}

// Counts 返回计数副本
func (d *Diagnostics) Counts() map[string]int {
	result := make(map[string]int)
	if d == nil {
		return result
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.counts {
		result[k] = v
	}
	return result
}

// Messages 返回消息副本
func (d *Diagnostics) Messages() []Diagnostic {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]Diagnostic, len(d.messages))
	copy(result, d.messages)
	return result
}

// Dropped 超出上限被丢弃的消息数
func (d *Diagnostics) Dropped() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
