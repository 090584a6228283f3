package queue

import (
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"github.com/freedkr/bc3tree/internal/config"
)

func TestQueueName(t *testing.T) {
	assert.Equal(t, "queue:bc3:import", QueueName(TaskTypeImport))
	assert.Equal(t, "queue:bc3:export", QueueName(TaskTypeExport))
	assert.Equal(t, "queue:default", QueueName("other"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "task:abc", TaskKey("abc"))
	assert.Equal(t, "task:events:abc", EventChannel("abc"))
}

func TestTaskIsFinished(t *testing.T) {
	for status, want := range map[string]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusRejected:   true,
		StatusFailed:     true,
	} {
		assert.Equal(t, want, (&Task{Status: status}).IsFinished(), status)
	}
}

func TestNewRedisClientDefaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	c := newRedisClient(rdb, config.QueueConfig{})
	assert.Equal(t, 24*time.Hour, c.ttl)
	assert.Equal(t, 5*time.Second, c.popTimeout)

	c = newRedisClient(rdb, config.QueueConfig{TaskTTL: time.Hour, PopTimeout: time.Second})
	assert.Equal(t, time.Hour, c.ttl)
	assert.Equal(t, time.Second, c.popTimeout)
}
