package outbox

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Entry is one persisted lifecycle event. Rows are never deleted; delivered
// and dead rows remain as an audit trail.
type Entry struct {
	ID            uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventName     string         `gorm:"column:event_name;type:varchar(128);not null"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	Status        Status         `gorm:"column:status;type:varchar(16);not null;index:idx_lifecycle_outbox_claim,priority:1"`
	Attempts      int            `gorm:"column:attempts;not null"`
	LastError     *string        `gorm:"column:last_error"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at;not null;index:idx_lifecycle_outbox_claim,priority:2"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (Entry) TableName() string {
	return "lifecycle_outbox"
}

func Models() []any {
	return []any{&Entry{}}
}
