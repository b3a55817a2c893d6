package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kudos/pkg/config"
	"kudos/pkg/errutil"
	"kudos/services/lifecycle"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultStateTTL = 10 * time.Minute

var (
	ErrInstallationNotFound = errors.New("installation data not found")
	ErrInvalidState         = errors.New("invalid oauth state")
	ErrExpiredState         = errors.New("expired oauth state")
)

type EventSink interface {
	Enqueue(ctx context.Context, evt lifecycle.Event) error
	EnqueueTx(ctx context.Context, tx *gorm.DB, evt lifecycle.Event) error
}

// Key identifies an installation. Empty ids are stored as "".
type Key struct {
	TeamID              string `json:"team_id"`
	EnterpriseID        string `json:"enterprise_id,omitempty"`
	IsEnterpriseInstall bool   `json:"is_enterprise_install"`
}

func (k Key) validate() error {
	if strings.TrimSpace(k.TeamID) == "" && strings.TrimSpace(k.EnterpriseID) == "" {
		return errutil.BadRequest("installation requires a team or enterprise id", nil)
	}
	return nil
}

func (k Key) where(db *gorm.DB) *gorm.DB {
	return db.Where("team_id = ? AND enterprise_id = ? AND is_enterprise_install = ?",
		k.TeamID, k.EnterpriseID, k.IsEnterpriseInstall)
}

type Store struct {
	db       *gorm.DB
	clock    clockwork.Clock
	sealer   *Sealer
	sink     EventSink
	stateTTL time.Duration
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Clock  clockwork.Clock
	Sink   EventSink `optional:"true"`
}

func NewStore(p StoreParams) (*Store, error) {
	sealer, err := NewSealer(p.Config.OAuth.InstallationEncryptionKey)
	if err != nil {
		return nil, err
	}
	if sealer == nil {
		zap.L().Warn("installation encryption key not set, install data is stored in plain text")
	}

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := p.Config.OAuth.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Store{db: p.DB, clock: clock, sealer: sealer, sink: p.Sink, stateTTL: ttl}, nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// StoreInstallation inserts or replaces the install payload for key.
func (s *Store) StoreInstallation(ctx context.Context, key Key, data json.RawMessage) error {
	if err := key.validate(); err != nil {
		return err
	}
	if !json.Valid(data) {
		return errutil.BadRequest("install data must be valid JSON", nil)
	}

	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return errutil.Internal("failed to encrypt install data", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team_id"}, {Name: "enterprise_id"}, {Name: "is_enterprise_install"}},
			DoUpdates: clause.AssignmentColumns([]string{"install_data", "installed_at"}),
		}).Create(&Installation{
			TeamID:              key.TeamID,
			EnterpriseID:        key.EnterpriseID,
			IsEnterpriseInstall: key.IsEnterpriseInstall,
			InstallData:         sealed,
			InstalledAt:         s.now(),
		}).Error
		if err != nil {
			return fmt.Errorf("store installation: %w", err)
		}
		return s.emitTx(ctx, tx, lifecycle.InstallationStoredEvent(key))
	})
}

func (s *Store) FetchInstallation(ctx context.Context, key Key) (json.RawMessage, error) {
	var inst Installation
	err := key.where(s.db.WithContext(ctx)).Take(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("installation not found", ErrInstallationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch installation: %w", err)
	}

	plain, err := s.sealer.Open(inst.InstallData)
	if err != nil {
		return nil, errutil.Internal("failed to decrypt install data", err)
	}
	return plain, nil
}

// DeleteInstallation removes key's installation. Deleting a missing
// installation is not an error and emits nothing.
func (s *Store) DeleteInstallation(ctx context.Context, key Key) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := key.where(tx).Delete(&Installation{})
		if res.Error != nil {
			return fmt.Errorf("delete installation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return s.emitTx(ctx, tx, lifecycle.InstallationDeletedEvent(key))
	})
}

// StoreState records an OAuth state valid for the configured TTL and drops
// states that already expired. An empty state gets a random one.
func (s *Store) StoreState(ctx context.Context, state string, options json.RawMessage) (string, error) {
	if state == "" {
		var err error
		if state, err = newState(); err != nil {
			return "", errutil.Internal("failed to generate oauth state", err)
		}
	}
	if len(options) == 0 {
		options = json.RawMessage(`{}`)
	}
	if !json.Valid(options) {
		return "", errutil.BadRequest("install options must be valid JSON", nil)
	}

	now := s.now()
	row := OAuthState{
		State:          state,
		InstallOptions: datatypes.JSON(options),
		ExpiresAt:      now.Add(s.stateTTL),
		CreatedAt:      now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at < ?", now).Delete(&OAuthState{}).Error; err != nil {
			return fmt.Errorf("purge oauth states: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "state"}},
			DoUpdates: clause.AssignmentColumns([]string{"install_options", "expires_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("store oauth state: %w", err)
		}
		return s.emitTx(ctx, tx, lifecycle.StateStoredEvent{State: state, ExpiresAt: row.ExpiresAt})
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

// VerifyState consumes state and returns its install options. A state
// verifies at most once; expired states are removed and rejected.
func (s *Store) VerifyState(ctx context.Context, state string) (json.RawMessage, error) {
	var (
		options json.RawMessage
		expired bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row OAuthState
		err := tx.Where("state = ?", state).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.Unauthorized("invalid oauth state", ErrInvalidState)
		}
		if err != nil {
			return fmt.Errorf("read oauth state: %w", err)
		}

		res := tx.Where("state = ?", state).Delete(&OAuthState{})
		if res.Error != nil {
			return fmt.Errorf("consume oauth state: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Unauthorized("invalid oauth state", ErrInvalidState)
		}

		if row.ExpiresAt.Before(s.now()) {
			expired = true
			return nil
		}

		options = json.RawMessage(row.InstallOptions)
		return s.emitTx(ctx, tx, lifecycle.StateVerifiedEvent{State: state})
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errutil.Unauthorized("expired oauth state", ErrExpiredState)
	}
	return options, nil
}

func (s *Store) emitTx(ctx context.Context, tx *gorm.DB, evt lifecycle.Event) error {
	if s.sink == nil {
		return nil
	}
	return s.sink.EnqueueTx(ctx, tx, evt)
}
