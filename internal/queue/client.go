// Package queue 基于Redis的导入任务队列与状态存储
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/model"
)

// 任务类型
const (
	TaskTypeImport = "bc3_import"
	TaskTypeExport = "bc3_export"
)

// 任务状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusFailed     = "failed"
)

// Client 任务队列接口
type Client interface {
	EnqueueTask(ctx context.Context, task *Task) error
	DequeueTask(ctx context.Context, taskType string) (*Task, error)
	GetTaskStatus(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID, status, stage, errMsg string) error
	UpdateTaskResult(ctx context.Context, taskID string, exports map[string]string) error
	Subscribe(ctx context.Context, taskID string) (<-chan *Task, func(), error)
	Ping(ctx context.Context) error
	Close() error
}

// Task 导入任务
type Task struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	FileName   string            `json:"file_name"`
	ObjectName string            `json:"object_name"`
	Status     string            `json:"status"`
	Stage      string            `json:"stage,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Error      string            `json:"error,omitempty"`
	Exports    map[string]string `json:"exports,omitempty"`
	Formats    []string          `json:"formats,omitempty"`
}

// IsFinished 任务是否已结束
func (t *Task) IsFinished() bool {
	switch t.Status {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

type redisClient struct {
	client     *redis.Client
	ttl        time.Duration
	popTimeout time.Duration
}

// NewRedisQueue 创建Redis队列
func NewRedisQueue(qcfg config.QueueConfig) (Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     qcfg.Addr,
		Password: qcfg.Password,
		DB:       qcfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	return newRedisClient(rdb, qcfg), nil
}

func newRedisClient(rdb *redis.Client, qcfg config.QueueConfig) *redisClient {
	c := &redisClient{client: rdb, ttl: qcfg.TaskTTL, popTimeout: qcfg.PopTimeout}
	if c.ttl <= 0 {
		c.ttl = 24 * time.Hour
	}
	if c.popTimeout <= 0 {
		c.popTimeout = 5 * time.Second
	}
	return c
}

// TaskKey 任务状态键
func TaskKey(taskID string) string {
	return "task:" + taskID
}

// EventChannel 任务状态变更频道
func EventChannel(taskID string) string {
	return "task:events:" + taskID
}

// QueueName 按任务类型选择队列
func QueueName(taskType string) string {
	switch taskType {
	case TaskTypeImport:
		return "queue:bc3:import"
	case TaskTypeExport:
		return "queue:bc3:export"
	default:
		return "queue:default"
	}
}

func (c *redisClient) EnqueueTask(ctx context.Context, task *Task) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusPending
	}

	if err := c.saveTask(ctx, task); err != nil {
		return err
	}
	if err := c.client.LPush(ctx, QueueName(task.Type), task.ID).Err(); err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

// DequeueTask 阻塞获取任务，超时返回 nil, nil
func (c *redisClient) DequeueTask(ctx context.Context, taskType string) (*Task, error) {
	result, err := c.client.BRPop(ctx, c.popTimeout, QueueName(taskType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("任务出队失败: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("意外的Redis返回格式: %v", result)
	}
	return c.GetTaskStatus(ctx, result[1])
}

func (c *redisClient) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	taskJSON, err := c.client.Get(ctx, TaskKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewNotFoundError(fmt.Sprintf("任务不存在: %s", taskID))
		}
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
		return nil, fmt.Errorf("反序列化任务失败: %w", err)
	}
	return &task, nil
}

func (c *redisClient) UpdateTaskStatus(ctx context.Context, taskID, status, stage, errMsg string) error {
	task, err := c.GetTaskStatus(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = status
	task.Stage = stage
	task.UpdatedAt = time.Now()
	if errMsg != "" {
		task.Error = errMsg
	}
	return c.saveAndPublish(ctx, task)
}

func (c *redisClient) UpdateTaskResult(ctx context.Context, taskID string, exports map[string]string) error {
	task, err := c.GetTaskStatus(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = StatusCompleted
	task.Stage = ""
	task.UpdatedAt = time.Now()
	task.Exports = exports
	return c.saveAndPublish(ctx, task)
}

// Subscribe 订阅任务状态变更，调用返回的函数取消订阅
func (c *redisClient) Subscribe(ctx context.Context, taskID string) (<-chan *Task, func(), error) {
	pubsub := c.client.Subscribe(ctx, EventChannel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("订阅任务事件失败: %w", err)
	}

	out := make(chan *Task, 8)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var task Task
			if err := json.Unmarshal([]byte(msg.Payload), &task); err != nil {
				continue
			}
			select {
			case out <- &task:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { pubsub.Close() }, nil
}

func (c *redisClient) saveAndPublish(ctx context.Context, task *Task) error {
	if err := c.saveTask(ctx, task); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}
	if err := c.client.Publish(ctx, EventChannel(task.ID), payload).Err(); err != nil {
		return fmt.Errorf("发布任务事件失败: %w", err)
	}
	return nil
}

func (c *redisClient) saveTask(ctx context.Context, task *Task) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}
	if err := c.client.Set(ctx, TaskKey(task.ID), taskJSON, c.ttl).Err(); err != nil {
		return fmt.Errorf("保存任务失败: %w", err)
	}
	return nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisClient) Close() error {
	return c.client.Close()
}
