package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueFinalizeSignature(payload tasks.FinalizeSignaturePayload) error
	EnqueueExpireSweep() error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

// EnqueueFinalizeSignature 投递定稿任务
// 定稿本身幂等，重复投递由早退检查兜底，这里允许重试
func (c *asynqClient) EnqueueFinalizeSignature(payload tasks.FinalizeSignaturePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeFinalizeSignature, data)

	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("signatures"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

// EnqueueExpireSweep 投递过期清扫任务
func (c *asynqClient) EnqueueExpireSweep() error {
	data, err := json.Marshal(tasks.ExpireSweepPayload{})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeExpireSweep, data)

	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
		asynq.Queue("default"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
