package points

import (
	"context"
	"time"
)

type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
}

type CountEntry struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

type Stats struct {
	Givers    []CountEntry `json:"givers"`
	Receivers []CountEntry `json:"receivers"`
}

func (l *Ledger) GetPoints(ctx context.Context, workspaceID, userID string) (int64, error) {
	return balanceOf(l.db.WithContext(ctx), workspaceID, userID)
}

// GetLeaderboard ranks by balance; ties go to the most recently credited user.
func (l *Ledger) GetLeaderboard(ctx context.Context, workspaceID string, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := l.db.WithContext(ctx).Model(&PointsBalance{}).
		Select("user_id, points").
		Where("workspace_id = ?", workspaceID).
		Order("points DESC, updated_at DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// GetLeaderboardForPeriod ranks by awards received since the given time;
// ties go to the most recently awarded user.
func (l *Ledger) GetLeaderboardForPeriod(ctx context.Context, workspaceID string, since time.Time, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := l.db.WithContext(ctx).Model(&AwardEvent{}).
		Select("recipient_id AS user_id, COUNT(*) AS points").
		Where("workspace_id = ? AND created_at >= ?", workspaceID, since.UTC()).
		Group("recipient_id").
		Order("COUNT(*) DESC, MAX(created_at) DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (l *Ledger) GetAwardHistory(ctx context.Context, workspaceID, recipientID string, limit int) ([]AwardEvent, error) {
	var events []AwardEvent
	err := l.db.WithContext(ctx).
		Where("workspace_id = ? AND recipient_id = ?", workspaceID, recipientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (l *Ledger) GetStats(ctx context.Context, workspaceID string, limit int) (*Stats, error) {
	givers, err := l.countBy(ctx, "actor_id", workspaceID, limit)
	if err != nil {
		return nil, err
	}
	receivers, err := l.countBy(ctx, "recipient_id", workspaceID, limit)
	if err != nil {
		return nil, err
	}
	return &Stats{Givers: givers, Receivers: receivers}, nil
}

// countBy groups award events by column, which must be actor_id or
// recipient_id.
func (l *Ledger) countBy(ctx context.Context, column, workspaceID string, limit int) ([]CountEntry, error) {
	var rows []CountEntry
	err := l.db.WithContext(ctx).Model(&AwardEvent{}).
		Select(column+" AS user_id, COUNT(*) AS count").
		Where("workspace_id = ?", workspaceID).
		Group(column).
		Order("COUNT(*) DESC, MAX(created_at) DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
