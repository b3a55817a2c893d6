package points

import (
	"context"
	"sync"
	"testing"
	"time"

	"kudos/pkg/errutil"
	"kudos/pkg/testutil"
	"kudos/services/lifecycle"
	"kudos/services/outbox"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var epoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	clock  *clockwork.FakeClock
	node   *snowflake.Node
	outbox *outbox.Store
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, append(Models(), outbox.Models()...)...)
	clock := clockwork.NewFakeClockAt(epoch)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := outbox.NewStore(outbox.StoreParams{DB: db, Clock: clock})
	return &fixture{
		db:     db,
		clock:  clock,
		node:   node,
		outbox: store,
		ledger: NewLedger(LedgerParams{DB: db, Node: node, Clock: clock, Sink: store}),
	}
}

func (f *fixture) entries(t *testing.T) []outbox.Entry {
	t.Helper()
	var rows []outbox.Entry
	require.NoError(t, f.db.Order("id").Find(&rows).Error)
	return rows
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func credit(ws, msg, actor, recipient string) CreditParams {
	return CreditParams{
		WorkspaceID: ws,
		ChannelID:   "C1",
		MessageRef:  msg,
		ActorID:     actor,
		RecipientID: recipient,
	}
}

func TestCreditAwardCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reason := "for the demo"

	p := credit("W1", "M1", "ALICE", "BOB")
	p.Reason = &reason
	res, err := f.ledger.CreditAward(ctx, p)
	require.NoError(t, err)
	require.False(t, res.Deduped)
	require.Equal(t, int64(1), res.Points)
	require.NotZero(t, res.EventID)
	require.True(t, res.EventCreatedAt.Equal(epoch))

	again, err := f.ledger.CreditAward(ctx, p)
	require.NoError(t, err)
	require.True(t, again.Deduped)
	require.Equal(t, int64(1), again.Points)
	require.Zero(t, again.EventID)

	require.Equal(t, int64(1), f.count(t, &AwardEvent{}))
	require.Equal(t, int64(1), f.count(t, &AwardDedupeKey{}))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	require.Equal(t, string(lifecycle.Awarded), entries[0].EventName)

	evt, err := lifecycle.Decode(lifecycle.Awarded, entries[0].Payload)
	require.NoError(t, err)
	awarded := evt.(lifecycle.AwardedEvent)
	require.Equal(t, "BOB", awarded.RecipientID)
	require.Equal(t, int64(1), awarded.Points)
	require.Equal(t, res.EventID, awarded.EventID)
	require.Equal(t, reason, *awarded.Reason)
}

func TestCreditAwardDistinctKeysAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []CreditParams{
		credit("W1", "M1", "ALICE", "BOB"),
		credit("W1", "M2", "ALICE", "BOB"),
		credit("W1", "M1", "CAROL", "BOB"),
	} {
		_, err := f.ledger.CreditAward(ctx, p)
		require.NoError(t, err)
	}
	other := credit("W1", "M1", "ALICE", "BOB")
	other.ChannelID = "C2"
	res, err := f.ledger.CreditAward(ctx, other)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Points)

	res, err = f.ledger.CreditAward(ctx, credit("W2", "M1", "ALICE", "BOB"))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Points, "workspaces are isolated")

	points, err := f.ledger.GetPoints(ctx, "W1", "BOB")
	require.NoError(t, err)
	require.Equal(t, int64(4), points)
	require.Equal(t, int64(5), f.count(t, &AwardEvent{}))
}

func TestCreditAwardRejectsMissingContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.CreditAward(context.Background(), CreditParams{WorkspaceID: "W1", ActorID: "ALICE"})
	require.Error(t, err)
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	be := errutil.From(err)
	fields := make([]string, 0, len(be.Details))
	for _, d := range be.Details {
		fields = append(fields, d.Field)
	}
	require.Equal(t, []string{"channel_id", "message_ref", "recipient_id"}, fields)

	require.Zero(t, f.count(t, &AwardDedupeKey{}))
	require.Zero(t, f.count(t, &outbox.Entry{}))
}

func TestCreditAwardConcurrentRedeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*CreditResult
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.CreditAward(ctx, credit("W1", "M1", "ALICE", "BOB"))
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	credited := 0
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, int64(1), results[i].Points)
		if !results[i].Deduped {
			credited++
		}
	}
	require.Equal(t, 1, credited)
	require.Equal(t, int64(1), f.count(t, &AwardEvent{}))
	require.Len(t, f.entries(t), 1)
}

func TestCreditAwardConcurrentMixedKeysKeepBalancesConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var params []CreditParams
	for dup := 0; dup < 3; dup++ {
		for _, ws := range []string{"W1", "W2"} {
			for _, msg := range []string{"M1", "M2", "M3"} {
				for _, r := range []string{"BOB", "CAROL", "DAVE"} {
					params = append(params, credit(ws, msg, "ALICE", r))
				}
			}
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(params))
	for i, p := range params {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.ledger.CreditAward(ctx, p)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var balances []PointsBalance
	require.NoError(t, f.db.Find(&balances).Error)
	require.Len(t, balances, 6)
	for _, b := range balances {
		var events int64
		require.NoError(t, f.db.Model(&AwardEvent{}).
			Where("workspace_id = ? AND recipient_id = ?", b.WorkspaceID, b.UserID).
			Count(&events).Error)
		require.Equal(t, events, b.Points, "%s/%s", b.WorkspaceID, b.UserID)
		require.Equal(t, int64(3), b.Points)
	}
	require.Equal(t, int64(18), f.count(t, &AwardEvent{}))
	require.Len(t, f.entries(t), 18)
}

func TestCreditAwardWithoutSink(t *testing.T) {
	f := newFixture(t)
	ledger := NewLedger(LedgerParams{DB: f.db, Node: f.node, Clock: f.clock})

	res, err := ledger.CreditAward(context.Background(), credit("W1", "M1", "ALICE", "BOB"))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Points)
	require.Empty(t, f.entries(t))
}

func TestLeaderboardBreaksTiesByRecency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreditAward(ctx, credit("W1", "M1", "ALICE", "BOB"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.ledger.CreditAward(ctx, credit("W1", "M2", "ALICE", "CAROL"))
	require.NoError(t, err)

	board, err := f.ledger.GetLeaderboard(ctx, "W1", 10)
	require.NoError(t, err)
	require.Equal(t, []LeaderboardEntry{{UserID: "CAROL", Points: 1}, {UserID: "BOB", Points: 1}}, board)

	f.clock.Advance(time.Minute)
	_, err = f.ledger.CreditAward(ctx, credit("W1", "M3", "CAROL", "BOB"))
	require.NoError(t, err)

	board, err = f.ledger.GetLeaderboard(ctx, "W1", 1)
	require.NoError(t, err)
	require.Equal(t, []LeaderboardEntry{{UserID: "BOB", Points: 2}}, board)

	board, err = f.ledger.GetLeaderboard(ctx, "W2", 10)
	require.NoError(t, err)
	require.Empty(t, board)
}

func TestLeaderboardForPeriodCountsRecentAwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// BOB has more points overall, all earned before the window.
	for _, msg := range []string{"M1", "M2", "M3"} {
		_, err := f.ledger.CreditAward(ctx, credit("W1", msg, "ALICE", "BOB"))
		require.NoError(t, err)
	}
	f.clock.Advance(10 * 24 * time.Hour)
	_, err := f.ledger.CreditAward(ctx, credit("W1", "M4", "ALICE", "CAROL"))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.ledger.CreditAward(ctx, credit("W1", "M5", "ALICE", "DAVE"))
	require.NoError(t, err)

	since := f.clock.Now().Add(-7 * 24 * time.Hour)
	board, err := f.ledger.GetLeaderboardForPeriod(ctx, "W1", since, 10)
	require.NoError(t, err)
	require.Equal(t, []LeaderboardEntry{{UserID: "DAVE", Points: 1}, {UserID: "CAROL", Points: 1}}, board)

	board, err = f.ledger.GetLeaderboardForPeriod(ctx, "W1", since.Add(-30*24*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, "BOB", board[0].UserID)
	require.Equal(t, int64(3), board[0].Points)
}

func TestAwardHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, msg := range []string{"M1", "M2", "M3", "M4", "M5", "M6"} {
		reason := msg
		p := credit("W1", msg, "ALICE", "BOB")
		p.Reason = &reason
		_, err := f.ledger.CreditAward(ctx, p)
		require.NoError(t, err)
		if i%2 == 0 {
			f.clock.Advance(time.Second)
		}
	}
	_, err := f.ledger.CreditAward(ctx, credit("W1", "M7", "ALICE", "CAROL"))
	require.NoError(t, err)

	history, err := f.ledger.GetAwardHistory(ctx, "W1", "BOB", 5)
	require.NoError(t, err)
	require.Len(t, history, 5)

	got := make([]string, len(history))
	for i, h := range history {
		got[i] = *h.Reason
		require.Equal(t, "BOB", h.RecipientID)
	}
	require.Equal(t, []string{"M6", "M5", "M4", "M3", "M2"}, got)
}

func TestStatsCountsGiversAndReceivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []CreditParams{
		credit("W1", "M1", "ALICE", "BOB"),
		credit("W1", "M2", "ALICE", "CAROL"),
		credit("W1", "M3", "CAROL", "BOB"),
	} {
		_, err := f.ledger.CreditAward(ctx, p)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	stats, err := f.ledger.GetStats(ctx, "W1", 5)
	require.NoError(t, err)
	require.Equal(t, []CountEntry{{UserID: "ALICE", Count: 2}, {UserID: "CAROL", Count: 1}}, stats.Givers)
	require.Equal(t, []CountEntry{{UserID: "BOB", Count: 2}, {UserID: "CAROL", Count: 1}}, stats.Receivers)
}
