package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)

	ForService(log, config.ServiceTypeImportWorker).WithField("task_id", "t1").Debug("开始处理")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "import-worker", entry["service"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "开始处理", entry["msg"])
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("忽略")
	assert.Empty(t, buf.String())

	log = NewWithWriter(config.LogConfig{Level: "bogus"}, &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
