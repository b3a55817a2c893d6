package install

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"kudos/pkg/config"
	"kudos/pkg/errutil"
	"kudos/pkg/testutil"
	"kudos/services/lifecycle"
	"kudos/services/outbox"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var epoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, secret string) (*Store, *gorm.DB, *clockwork.FakeClock) {
	t.Helper()
	db := testutil.NewTestDB(t, append(Models(), outbox.Models()...)...)
	clock := clockwork.NewFakeClockAt(epoch)
	sink := outbox.NewStore(outbox.StoreParams{DB: db, Clock: clock})
	store, err := NewStore(StoreParams{
		DB:     db,
		Config: &config.Config{OAuth: config.OAuth{InstallationEncryptionKey: secret}},
		Clock:  clock,
		Sink:   sink,
	})
	require.NoError(t, err)
	return store, db, clock
}

func eventNames(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var names []string
	require.NoError(t, db.Model(&outbox.Entry{}).Order("id").Pluck("event_name", &names).Error)
	return names
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("secret")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte(`{"bot":"xoxb"}`))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sealed, sealedPrefix))
	require.NotContains(t, sealed, "xoxb")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, `{"bot":"xoxb"}`, string(plain))

	other, err := NewSealer("another secret")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrCiphertext)

	var none *Sealer
	_, err = none.Open(sealed)
	require.ErrorIs(t, err, ErrCiphertext)

	_, err = s.Open(sealedPrefix + "zz")
	require.ErrorIs(t, err, ErrCiphertext)
}

func TestSealerWithoutKeyPassesThrough(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	require.Nil(t, s)

	stored, err := s.Seal([]byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, `{}`, stored)
}

func TestInstallationLifecycle(t *testing.T) {
	store, db, _ := newTestStore(t, "secret")
	ctx := context.Background()
	key := Key{TeamID: "T1"}

	_, err := store.FetchInstallation(ctx, key)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	require.ErrorIs(t, err, ErrInstallationNotFound)

	require.NoError(t, store.StoreInstallation(ctx, key, json.RawMessage(`{"token":"a"}`)))
	require.NoError(t, store.StoreInstallation(ctx, key, json.RawMessage(`{"token":"b"}`)))

	var row Installation
	require.NoError(t, db.Take(&row).Error)
	require.NotContains(t, row.InstallData, "token")

	data, err := store.FetchInstallation(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"token":"b"}`, string(data))

	// enterprise installs are keyed separately
	_, err = store.FetchInstallation(ctx, Key{TeamID: "T1", IsEnterpriseInstall: true})
	require.Error(t, err)

	require.NoError(t, store.DeleteInstallation(ctx, key))
	require.NoError(t, store.DeleteInstallation(ctx, key))
	_, err = store.FetchInstallation(ctx, key)
	require.Error(t, err)

	require.Equal(t, []string{
		string(lifecycle.InstallationStored),
		string(lifecycle.InstallationStored),
		string(lifecycle.InstallationDeleted),
	}, eventNames(t, db))
}

func TestStoreInstallationValidates(t *testing.T) {
	store, _, _ := newTestStore(t, "")
	ctx := context.Background()

	err := store.StoreInstallation(ctx, Key{}, json.RawMessage(`{}`))
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	err = store.StoreInstallation(ctx, Key{TeamID: "T1"}, json.RawMessage(`{`))
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestPlainInstallationReadableAfterKeyIsSet(t *testing.T) {
	plain, db, clock := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, plain.StoreInstallation(ctx, Key{TeamID: "T1"}, json.RawMessage(`{"token":"a"}`)))

	keyed, err := NewStore(StoreParams{
		DB:     db,
		Config: &config.Config{OAuth: config.OAuth{InstallationEncryptionKey: "secret"}},
		Clock:  clock,
	})
	require.NoError(t, err)

	data, err := keyed.FetchInstallation(ctx, Key{TeamID: "T1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"token":"a"}`, string(data))
}

func TestStateIsSingleUse(t *testing.T) {
	store, db, _ := newTestStore(t, "")
	ctx := context.Background()

	state, err := store.StoreState(ctx, "", json.RawMessage(`{"scopes":["chat:write"]}`))
	require.NoError(t, err)
	require.Len(t, state, 32)

	options, err := store.VerifyState(ctx, state)
	require.NoError(t, err)
	require.JSONEq(t, `{"scopes":["chat:write"]}`, string(options))

	_, err = store.VerifyState(ctx, state)
	require.ErrorIs(t, err, ErrInvalidState)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))

	require.Equal(t, []string{string(lifecycle.StateStored), string(lifecycle.StateVerified)}, eventNames(t, db))
}

func TestExpiredStateIsRejectedAndRemoved(t *testing.T) {
	store, db, clock := newTestStore(t, "")
	ctx := context.Background()

	_, err := store.StoreState(ctx, "S1", nil)
	require.NoError(t, err)

	clock.Advance(DefaultStateTTL + time.Second)
	_, err = store.VerifyState(ctx, "S1")
	require.ErrorIs(t, err, ErrExpiredState)

	var n int64
	require.NoError(t, db.Model(&OAuthState{}).Count(&n).Error)
	require.Zero(t, n)
	require.Equal(t, []string{string(lifecycle.StateStored)}, eventNames(t, db))
}

func TestStoreStatePurgesExpired(t *testing.T) {
	store, db, clock := newTestStore(t, "")
	ctx := context.Background()

	_, err := store.StoreState(ctx, "OLD", nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = store.StoreState(ctx, "NEW", nil)
	require.NoError(t, err)

	var states []string
	require.NoError(t, db.Model(&OAuthState{}).Pluck("state", &states).Error)
	require.Equal(t, []string{"NEW"}, states)

	options, err := store.VerifyState(ctx, "NEW")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(options))
}
