package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
	queue  string
}

// NewEnqueuer enqueues onto queue unless the caller passes its own
// asynq.Queue option.
func NewEnqueuer(client *asynq.Client, queue string) Enqueuer {
	return &enqueuerImpl{client: client, queue: queue}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.queue != "" {
		opts = append([]asynq.Option{asynq.Queue(e.queue)}, opts...)
	}
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}
