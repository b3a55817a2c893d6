package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"kudos/pkg/task"
	"kudos/pkg/taskname"
	"kudos/services/lifecycle"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypePointsAwarded = taskname.PointsAwarded

// NewPointsAwardedTask wraps an awarded event. The ledger event id becomes
// the task id, so forwarding the same award twice enqueues one task.
func NewPointsAwardedTask(evt lifecycle.AwardedEvent) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s payload: %w", TypePointsAwarded, err)
	}
	opts := []asynq.Option{
		asynq.TaskID(TypePointsAwarded + ":" + strconv.FormatInt(evt.EventID, 10)),
		asynq.MaxRetry(5),
	}
	return asynq.NewTask(TypePointsAwarded, payload), opts, nil
}

func ParsePointsAwarded(t *asynq.Task) (lifecycle.AwardedEvent, error) {
	var evt lifecycle.AwardedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return evt, fmt.Errorf("decode %s payload: %v: %w", TypePointsAwarded, err, asynq.SkipRetry)
	}
	return evt, nil
}

// Forwarder hands awarded events to the asynq queue for out-of-process
// consumers.
type Forwarder struct {
	enq task.Enqueuer
}

func NewForwarder(enq task.Enqueuer) *Forwarder {
	return &Forwarder{enq: enq}
}

func (f *Forwarder) Handle(ctx context.Context, evt lifecycle.Event) error {
	awarded, ok := evt.(lifecycle.AwardedEvent)
	if !ok {
		return fmt.Errorf("forwarder: unexpected event %s", evt.EventName())
	}

	t, opts, err := NewPointsAwardedTask(awarded)
	if err != nil {
		return err
	}

	info, err := f.enq.Enqueue(ctx, t, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Debug("award forwarded",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Int64("event_id", awarded.EventID))
	return nil
}

// HandlePointsAwarded is the consumer side of the forwarded task.
func HandlePointsAwarded(ctx context.Context, t *asynq.Task) error {
	evt, err := ParsePointsAwarded(t)
	if err != nil {
		return err
	}

	zap.L().Info("points awarded",
		zap.String("workspace_id", evt.WorkspaceID),
		zap.String("actor_id", evt.ActorID),
		zap.String("recipient_id", evt.RecipientID),
		zap.Int64("points", evt.Points),
		zap.Int64("event_id", evt.EventID),
		zap.Time("event_created_at", evt.EventCreatedAt))
	return nil
}
