package model

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDiagnostics_CountsAndMessages(t *testing.T) {
	d := NewDiagnostics(nil).WithMaxMessages(2)

	d.Count("relation_deduped")
	d.Warnf("missing_endpoint", "D", "子项 %s 不存在", "A")
	d.Warnf("missing_endpoint", "D", "子项 %s 不存在", "B")
	d.Warnf("missing_endpoint", "D", "子项 %s 不存在", "C")

	assert.Equal(t, 1, d.Get("relation_deduped"))
	assert.Equal(t, 3, d.Get("missing_endpoint"))
	assert.Len(t, d.Messages(), 2)
	assert.Equal(t, 1, d.Dropped())
	assert.Equal(t, "子项 A 不存在", d.Messages()[0].Message)
	assert.Equal(t, map[string]int{"relation_deduped": 1, "missing_endpoint": 3}, d.Counts())
}

func TestDiagnostics_ForwardsToLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	d := NewDiagnostics(log)
	d.Warnf("cycle_rejected", "A", "拒绝关系 %s -> %s", "A", "B")

	assert.Contains(t, buf.String(), "拒绝关系 A -> B")
	assert.Contains(t, buf.String(), "category=cycle_rejected")
}

func TestDiagnostics_NilSafe(t *testing.T) {
	var d *Diagnostics
	d.Count("x")
	d.Warnf("x", "", "msg")
	assert.Equal(t, 0, d.Get("x"))
	assert.Empty(t, d.Counts())
	assert.Nil(t, d.Messages())
}

func TestDiagnostics_Concurrent(t *testing.T) {
	d := NewDiagnostics(nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Count("n")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, d.Get("n"))
}
