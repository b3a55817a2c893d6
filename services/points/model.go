package points

import "time"

// AwardEvent is the append-only history of credited awards.
type AwardEvent struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	WorkspaceID string    `gorm:"column:workspace_id;type:varchar(64);not null;index:idx_award_events_workspace_created,priority:1;index:idx_award_events_recipient,priority:1" json:"workspace_id"`
	ActorID     string    `gorm:"column:actor_id;type:varchar(64);not null" json:"actor_id"`
	RecipientID string    `gorm:"column:recipient_id;type:varchar(64);not null;index:idx_award_events_recipient,priority:2" json:"recipient_id"`
	Reason      *string   `gorm:"column:reason" json:"reason"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_award_events_workspace_created,priority:2" json:"created_at"`
}

func (AwardEvent) TableName() string {
	return "award_events"
}

// AwardDedupeKey makes one chat message credit a recipient at most once,
// however many times the platform redelivers it. Rows are never removed.
type AwardDedupeKey struct {
	WorkspaceID string    `gorm:"column:workspace_id;type:varchar(64);primaryKey"`
	ChannelID   string    `gorm:"column:channel_id;type:varchar(64);primaryKey"`
	MessageRef  string    `gorm:"column:message_ref;type:varchar(128);primaryKey"`
	ActorID     string    `gorm:"column:actor_id;type:varchar(64);primaryKey"`
	RecipientID string    `gorm:"column:recipient_id;type:varchar(64);primaryKey"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (AwardDedupeKey) TableName() string {
	return "award_dedupe_keys"
}

type PointsBalance struct {
	WorkspaceID string    `gorm:"column:workspace_id;type:varchar(64);primaryKey;index:idx_points_balances_rank,priority:1"`
	UserID      string    `gorm:"column:user_id;type:varchar(64);primaryKey"`
	Points      int64     `gorm:"column:points;not null;index:idx_points_balances_rank,priority:2,sort:desc"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (PointsBalance) TableName() string {
	return "points_balances"
}

func Models() []any {
	return []any{&AwardEvent{}, &AwardDedupeKey{}, &PointsBalance{}}
}
