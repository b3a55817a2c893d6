package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kudos/services/lifecycle"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("outbox entry not found")

// Store persists lifecycle events and moves them through the delivery state
// machine. All timestamps come from the store's clock.
type Store struct {
	db    *gorm.DB
	clock clockwork.Clock
}

type StoreParams struct {
	fx.In
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewStore(p StoreParams) *Store {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: p.DB, clock: clock}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Enqueue persists evt on its own, outside any caller transaction.
func (s *Store) Enqueue(ctx context.Context, evt lifecycle.Event) error {
	return s.insert(s.db.WithContext(ctx), evt)
}

// EnqueueTx persists evt inside tx so it commits or rolls back with the
// caller's writes.
func (s *Store) EnqueueTx(ctx context.Context, tx *gorm.DB, evt lifecycle.Event) error {
	return s.insert(tx.WithContext(ctx), evt)
}

func (s *Store) insert(db *gorm.DB, evt lifecycle.Event) error {
	payload, err := lifecycle.Encode(evt)
	if err != nil {
		return err
	}

	now := s.now()
	entry := Entry{
		EventName:     string(evt.EventName()),
		Payload:       datatypes.JSON(payload),
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", evt.EventName(), err)
	}
	return nil
}

// Claim marks up to limit due entries as processing and returns them in id
// order. Rows locked by a concurrent claimer are skipped.
func (s *Store) Claim(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	var entries []Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&Entry{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_attempt_at <= ?", []Status{StatusPending, StatusFailed}, now).
			Order("id").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("select due entries: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&Entry{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}

		return tx.Where("id IN ?", ids).Order("id").Find(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id uint64) error {
	return s.transition(ctx, id, map[string]any{
		"status":     StatusDelivered,
		"updated_at": s.now(),
	})
}

// MarkRetry records a failed delivery that will be attempted again at next.
func (s *Store) MarkRetry(ctx context.Context, id uint64, attempts int, lastErr string, next time.Time) error {
	return s.transition(ctx, id, map[string]any{
		"status":          StatusFailed,
		"attempts":        attempts,
		"last_error":      lastErr,
		"next_attempt_at": next.UTC(),
		"updated_at":      s.now(),
	})
}

func (s *Store) MarkDead(ctx context.Context, id uint64, attempts int, lastErr string) error {
	return s.transition(ctx, id, map[string]any{
		"status":     StatusDead,
		"attempts":   attempts,
		"last_error": lastErr,
		"updated_at": s.now(),
	})
}

// transition only applies to rows still in processing, so a late completion
// cannot overwrite a row that was reclaimed and delivered elsewhere.
func (s *Store) transition(ctx context.Context, id uint64, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update outbox entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update outbox entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReclaimStale returns processing entries untouched for longer than timeout
// to failed so the next claim picks them up. Attempts are left unchanged.
func (s *Store) ReclaimStale(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		return 0, nil
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&Entry{}).
		Where("status = ? AND updated_at < ?", StatusProcessing, now.Add(-timeout)).
		Updates(map[string]any{
			"status":          StatusFailed,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Backlog counts entries still waiting for delivery.
func (s *Store) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("status IN ?", []Status{StatusPending, StatusFailed}).
		Count(&n).Error
	return n, err
}

type statusCount struct {
	Status Status
	Total  int64
}

func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []statusCount
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
