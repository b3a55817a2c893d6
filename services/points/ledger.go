package points

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kudos/pkg/errutil"
	"kudos/services/lifecycle"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("kudos/points")

// EventSink persists lifecycle events for asynchronous delivery.
type EventSink interface {
	Enqueue(ctx context.Context, evt lifecycle.Event) error
	EnqueueTx(ctx context.Context, tx *gorm.DB, evt lifecycle.Event) error
}

type CreditParams struct {
	WorkspaceID string
	ChannelID   string
	MessageRef  string
	ThreadRef   string
	ActorID     string
	RecipientID string
	Reason      *string
}

func (p CreditParams) validate() error {
	return requireFields(
		field{"workspace_id", p.WorkspaceID},
		field{"channel_id", p.ChannelID},
		field{"message_ref", p.MessageRef},
		field{"actor_id", p.ActorID},
		field{"recipient_id", p.RecipientID},
	)
}

type field struct{ name, value string }

func requireFields(fields ...field) error {
	var details []errutil.Detail
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			details = append(details, errutil.Detail{Field: f.name, Message: "required"})
		}
	}
	if len(details) > 0 {
		return errutil.BadRequest("missing award context", nil, errutil.WithDetails(details...))
	}
	return nil
}

// CreditResult reports the recipient balance after the credit. EventID is
// zero and EventCreatedAt is the zero time when Deduped is set.
type CreditResult struct {
	Points         int64
	EventID        int64
	EventCreatedAt time.Time
	Deduped        bool
}

// Ledger credits awards. Every credit runs in one transaction whose only
// serialization point is the dedupe key insert; balances are incremented by
// the database, never read-modified-written in Go.
type Ledger struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clockwork.Clock
	sink  EventSink
}

type LedgerParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clockwork.Clock
	Sink  EventSink `optional:"true"`
}

func NewLedger(p LedgerParams) *Ledger {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{db: p.DB, node: p.Node, clock: clock, sink: p.Sink}
}

func spanFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// CreditAward gives the recipient one point for the award identified by
// (workspace, channel, message, actor, recipient). Redelivery of the same
// award returns the current balance with Deduped set and writes nothing.
// When not deduped, a points.awarded event is enqueued in the same
// transaction.
func (l *Ledger) CreditAward(ctx context.Context, p CreditParams) (*CreditResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "points.CreditAward")
	defer span.End()

	log := zap.L().With(spanFields(ctx)...).With(
		zap.String("workspace_id", p.WorkspaceID),
		zap.String("actor_id", p.ActorID),
		zap.String("recipient_id", p.RecipientID),
		zap.String("message_ref", p.MessageRef),
	)

	var res CreditResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now().UTC()

		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&AwardDedupeKey{
			WorkspaceID: p.WorkspaceID,
			ChannelID:   p.ChannelID,
			MessageRef:  p.MessageRef,
			ActorID:     p.ActorID,
			RecipientID: p.RecipientID,
			CreatedAt:   now,
		})
		if ins.Error != nil {
			return fmt.Errorf("insert dedupe key: %w", ins.Error)
		}

		if ins.RowsAffected == 0 {
			points, err := balanceOf(tx, p.WorkspaceID, p.RecipientID)
			if err != nil {
				return err
			}
			res = CreditResult{Points: points, Deduped: true}
			return nil
		}

		event := AwardEvent{
			ID:          l.node.Generate().Int64(),
			WorkspaceID: p.WorkspaceID,
			ActorID:     p.ActorID,
			RecipientID: p.RecipientID,
			Reason:      p.Reason,
			CreatedAt:   now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("insert award event: %w", err)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"points":     gorm.Expr("points_balances.points + ?", 1),
				"updated_at": now,
			}),
		}).Create(&PointsBalance{
			WorkspaceID: p.WorkspaceID,
			UserID:      p.RecipientID,
			Points:      1,
			UpdatedAt:   now,
		}).Error; err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}

		points, err := balanceOf(tx, p.WorkspaceID, p.RecipientID)
		if err != nil {
			return err
		}

		res = CreditResult{
			Points:         points,
			EventID:        event.ID,
			EventCreatedAt: event.CreatedAt,
		}

		if l.sink == nil {
			return nil
		}
		return l.sink.EnqueueTx(ctx, tx, lifecycle.AwardedEvent{
			WorkspaceID:    p.WorkspaceID,
			ChannelID:      p.ChannelID,
			MessageRef:     p.MessageRef,
			ThreadRef:      p.ThreadRef,
			ActorID:        p.ActorID,
			RecipientID:    p.RecipientID,
			Reason:         p.Reason,
			Points:         points,
			EventID:        event.ID,
			EventCreatedAt: event.CreatedAt,
		})
	})
	if err != nil {
		span.RecordError(err)
		log.Error("failed to credit award", zap.Error(err))
		return nil, err
	}

	if res.Deduped {
		log.Info("award already credited", zap.Int64("points", res.Points))
	} else {
		log.Info("award credited", zap.Int64("points", res.Points), zap.Int64("event_id", res.EventID))
	}
	return &res, nil
}

func balanceOf(tx *gorm.DB, workspaceID, userID string) (int64, error) {
	var bal PointsBalance
	err := tx.Where("workspace_id = ? AND user_id = ?", workspaceID, userID).Take(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal.Points, nil
}
