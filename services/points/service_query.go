package points

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kudos/pkg/errutil"
	"kudos/services/lifecycle"

	"go.uber.org/zap"
)

type Period string

const (
	PeriodAll   Period = ""
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts "", "all", "week" and "month" in any case.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return PeriodAll, nil
	case "week":
		return PeriodWeek, nil
	case "month":
		return PeriodMonth, nil
	}
	return PeriodAll, errutil.BadRequest("invalid period", nil, errutil.WithDetails(errutil.Detail{
		Field:   "period",
		Message: "must be one of all, week, month",
	}))
}

func (p Period) window() time.Duration {
	switch p {
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

func (p Period) label() string {
	switch p {
	case PeriodWeek:
		return "Leaderboard (last 7 days)"
	case PeriodMonth:
		return "Leaderboard (last 30 days)"
	}
	return "Leaderboard"
}

// Query identifies who asked and where. UserID is the lookup target for
// points and history; empty means the requester.
type Query struct {
	WorkspaceID string
	ChannelID   string
	RequesterID string
	UserID      string
	Period      Period
}

func (q Query) target() string {
	if q.UserID == "" {
		return q.RequesterID
	}
	return q.UserID
}

func (q Query) validate() error {
	return requireFields(
		field{"workspace_id", q.WorkspaceID},
		field{"requester_id", q.RequesterID},
	)
}

type PointsResult struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Text   string `json:"text"`
}

type LeaderboardResult struct {
	Period  Period             `json:"period"`
	Entries []LeaderboardEntry `json:"entries"`
	Text    string             `json:"text"`
}

type HistoryResult struct {
	UserID string       `json:"user_id"`
	Awards []AwardEvent `json:"awards"`
	Text   string       `json:"text"`
}

type StatsResult struct {
	Stats
	Text string `json:"text"`
}

func (s *Service) Points(ctx context.Context, q Query) (*PointsResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	target := q.target()
	points, err := s.ledger.GetPoints(ctx, q.WorkspaceID, target)
	if err != nil {
		return nil, errutil.Internal("failed to read points", err)
	}

	queryType := "user"
	if target == q.RequesterID {
		queryType = "self"
	}
	s.queried(ctx, q, lifecycle.QueryEvent{
		QueryType:    queryType,
		TargetUserID: target,
		Points:       &points,
	})

	return &PointsResult{
		UserID: target,
		Points: points,
		Text:   fmt.Sprintf("<@%s> has %d points.", target, points),
	}, nil
}

// Leaderboard ranks by balance for PeriodAll and by awards received within
// the period otherwise. Identical concurrent requests share one read, which
// is detached from the cancellation of whichever caller started it.
func (s *Service) Leaderboard(ctx context.Context, q Query) (*LeaderboardResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	key := q.WorkspaceID + "|" + string(q.Period)
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if q.Period == PeriodAll {
			return s.ledger.GetLeaderboard(shared, q.WorkspaceID, leaderboardLimit)
		}
		since := s.clock.Now().Add(-q.Period.window())
		return s.ledger.GetLeaderboardForPeriod(shared, q.WorkspaceID, since, leaderboardLimit)
	})
	if err != nil {
		return nil, errutil.Internal("failed to read leaderboard", err)
	}
	entries := v.([]LeaderboardEntry)

	qe := make([]lifecycle.QueryEntry, len(entries))
	for i, e := range entries {
		qe[i] = lifecycle.QueryEntry{UserID: e.UserID, Value: e.Points}
	}
	s.queried(ctx, q, lifecycle.QueryEvent{
		QueryType: "leaderboard",
		Period:    string(q.Period),
		Entries:   qe,
	})

	text := noPointsYet
	if len(entries) > 0 {
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = fmt.Sprintf("%d. <@%s> — %d", i+1, e.UserID, e.Points)
		}
		text = q.Period.label() + ":\n" + strings.Join(lines, "\n")
	}

	return &LeaderboardResult{Period: q.Period, Entries: entries, Text: text}, nil
}

func (s *Service) History(ctx context.Context, q Query) (*HistoryResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	target := q.target()
	awards, err := s.ledger.GetAwardHistory(ctx, q.WorkspaceID, target, historyLimit)
	if err != nil {
		return nil, errutil.Internal("failed to read award history", err)
	}

	qe := make([]lifecycle.QueryEntry, len(awards))
	for i, a := range awards {
		qe[i] = lifecycle.QueryEntry{UserID: a.ActorID, Value: a.ID}
	}
	s.queried(ctx, q, lifecycle.QueryEvent{
		QueryType:    "history",
		TargetUserID: target,
		Entries:      qe,
	})

	text := fmt.Sprintf("No recent awards for <@%s>.", target)
	if len(awards) > 0 {
		lines := make([]string, len(awards))
		for i, a := range awards {
			detail := ""
			if reason := FormatReason(a.Reason); reason != nil {
				detail = " — " + *reason
			}
			lines[i] = fmt.Sprintf("%d. <@%s>%s (%s)", i+1, a.ActorID, detail, a.CreatedAt.UTC().Format(time.DateOnly))
		}
		text = fmt.Sprintf("Recent awards for <@%s>:\n%s", target, strings.Join(lines, "\n"))
	}

	return &HistoryResult{UserID: target, Awards: awards, Text: text}, nil
}

func (s *Service) Stats(ctx context.Context, q Query) (*StatsResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	stats, err := s.ledger.GetStats(ctx, q.WorkspaceID, statsLimit)
	if err != nil {
		return nil, errutil.Internal("failed to read stats", err)
	}

	s.queried(ctx, q, lifecycle.QueryEvent{
		QueryType: "stats",
		Entries:   countEntries(stats.Receivers),
		Givers:    countEntries(stats.Givers),
	})

	text := noPointsYet
	if len(stats.Givers) > 0 || len(stats.Receivers) > 0 {
		text = "Top givers:\n" + countLines(stats.Givers, "No awards given yet.") +
			"\n\nTop receivers:\n" + countLines(stats.Receivers, "No awards received yet.")
	}

	return &StatsResult{Stats: *stats, Text: text}, nil
}

func (s *Service) queried(ctx context.Context, q Query, evt lifecycle.QueryEvent) {
	queriesTotal.WithLabelValues(evt.QueryType).Inc()
	zap.L().Info("points queried",
		zap.String("query_type", evt.QueryType),
		zap.String("workspace_id", q.WorkspaceID),
		zap.String("requester_id", q.RequesterID))

	evt.WorkspaceID = q.WorkspaceID
	evt.ChannelID = q.ChannelID
	evt.RequesterID = q.RequesterID
	s.enqueue(ctx, evt)
}

func countEntries(rows []CountEntry) []lifecycle.QueryEntry {
	out := make([]lifecycle.QueryEntry, len(rows))
	for i, r := range rows {
		out[i] = lifecycle.QueryEntry{UserID: r.UserID, Value: r.Count}
	}
	return out
}

func countLines(rows []CountEntry, empty string) string {
	if len(rows) == 0 {
		return empty
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%d. <@%s> — %d", i+1, r.UserID, r.Count)
	}
	return strings.Join(lines, "\n")
}
