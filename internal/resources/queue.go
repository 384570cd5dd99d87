package resources

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/shutdown-sequencer/internal/jobs"
	"github.com/Proton-105/shutdown-sequencer/pkg/config"
)

// Queue is an asynq producer client. Closing it stops new enqueues; queued tasks stay in Redis.
type Queue struct {
	client *asynq.Client
}

// NewQueue connects an asynq client to the Redis instance described by cfg.
func NewQueue(cfg config.RedisConfig) *Queue {
	return &Queue{client: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})}
}

// Enqueue submits task; it fails once the queue has been closed.
func (q *Queue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return q.client.EnqueueContext(ctx, task, opts...)
}

// EnqueueWork submits a work task lasting d and returns its id.
func (q *Queue) EnqueueWork(ctx context.Context, d time.Duration) (string, error) {
	task, err := jobs.NewWorkTask(d)
	if err != nil {
		return "", err
	}

	info, err := q.Enqueue(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (q *Queue) Name() string { return config.ResourceQueue }

func (q *Queue) Close(ctx context.Context) error {
	if q == nil || q.client == nil {
		return nil
	}
	return closeWithContext(ctx, q.client.Close)
}
