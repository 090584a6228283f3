// Package logger 构建结构化日志
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/bc3tree/internal/config"
)

// New 根据日志配置创建logrus实例
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter 创建输出到指定writer的logrus实例
func NewWithWriter(cfg config.LogConfig, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// ForService 附加服务名字段
func ForService(log logrus.FieldLogger, service config.ServiceType) *logrus.Entry {
	return log.WithField("service", string(service))
}

// Discard 返回丢弃所有输出的logger，测试与命令行静默模式使用
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
