package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventName string

const (
	AwardReceived       EventName = "points.award.received"
	Awarded             EventName = "points.awarded"
	AwardFailed         EventName = "points.award.failed"
	Query               EventName = "points.query"
	InstallationStored  EventName = "oauth.installation.stored"
	InstallationDeleted EventName = "oauth.installation.deleted"
	StateStored         EventName = "oauth.state.stored"
	StateVerified       EventName = "oauth.state.verified"
	AppStarted          EventName = "app.started"
)

var ErrUnknownEvent = errors.New("lifecycle: unknown event")

// Event is implemented by every payload type below. The set is closed:
// Decode rejects names it does not know.
type Event interface {
	EventName() EventName
}

type AwardReceivedEvent struct {
	WorkspaceID string   `json:"workspace_id"`
	ChannelID   string   `json:"channel_id"`
	MessageRef  string   `json:"message_ref"`
	ThreadRef   string   `json:"thread_ref,omitempty"`
	ActorID     string   `json:"actor_id"`
	Recipients  []string `json:"recipients"`
	Reason      *string  `json:"reason"`
}

func (AwardReceivedEvent) EventName() EventName { return AwardReceived }

type AwardedEvent struct {
	WorkspaceID    string    `json:"workspace_id"`
	ChannelID      string    `json:"channel_id"`
	MessageRef     string    `json:"message_ref"`
	ThreadRef      string    `json:"thread_ref,omitempty"`
	ActorID        string    `json:"actor_id"`
	RecipientID    string    `json:"recipient_id"`
	Reason         *string   `json:"reason"`
	Points         int64     `json:"points"`
	EventID        int64     `json:"event_id,string"`
	EventCreatedAt time.Time `json:"event_created_at"`
}

func (AwardedEvent) EventName() EventName { return Awarded }

type AwardFailedEvent struct {
	WorkspaceID  string   `json:"workspace_id"`
	ChannelID    string   `json:"channel_id"`
	MessageRef   string   `json:"message_ref"`
	ThreadRef    string   `json:"thread_ref,omitempty"`
	ActorID      string   `json:"actor_id"`
	Recipients   []string `json:"recipients"`
	Reason       *string  `json:"reason"`
	ErrorMessage string   `json:"error_message"`
}

func (AwardFailedEvent) EventName() EventName { return AwardFailed }

type QueryEntry struct {
	UserID string `json:"user_id"`
	Value  int64  `json:"value"`
}

type QueryEvent struct {
	QueryType    string       `json:"query_type"`
	WorkspaceID  string       `json:"workspace_id"`
	ChannelID    string       `json:"channel_id,omitempty"`
	RequesterID  string       `json:"requester_id"`
	TargetUserID string       `json:"target_user_id,omitempty"`
	Period       string       `json:"period,omitempty"`
	Points       *int64       `json:"points,omitempty"`
	Entries      []QueryEntry `json:"entries,omitempty"`
	Givers       []QueryEntry `json:"givers,omitempty"`
}

func (QueryEvent) EventName() EventName { return Query }

type InstallationStoredEvent struct {
	TeamID              string `json:"team_id"`
	EnterpriseID        string `json:"enterprise_id,omitempty"`
	IsEnterpriseInstall bool   `json:"is_enterprise_install"`
}

func (InstallationStoredEvent) EventName() EventName { return InstallationStored }

type InstallationDeletedEvent struct {
	TeamID              string `json:"team_id"`
	EnterpriseID        string `json:"enterprise_id,omitempty"`
	IsEnterpriseInstall bool   `json:"is_enterprise_install"`
}

func (InstallationDeletedEvent) EventName() EventName { return InstallationDeleted }

type StateStoredEvent struct {
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (StateStoredEvent) EventName() EventName { return StateStored }

type StateVerifiedEvent struct {
	State string `json:"state"`
}

func (StateVerifiedEvent) EventName() EventName { return StateVerified }

type AppStartedEvent struct {
	Port string `json:"port"`
}

func (AppStartedEvent) EventName() EventName { return AppStarted }

// Encode returns the JSON payload persisted for evt.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil event", ErrUnknownEvent)
	}
	return json.Marshal(evt)
}

// Decode rebuilds the typed event stored under name.
func Decode(name EventName, payload []byte) (Event, error) {
	switch name {
	case AwardReceived:
		return decode[AwardReceivedEvent](payload)
	case Awarded:
		return decode[AwardedEvent](payload)
	case AwardFailed:
		return decode[AwardFailedEvent](payload)
	case Query:
		return decode[QueryEvent](payload)
	case InstallationStored:
		return decode[InstallationStoredEvent](payload)
	case InstallationDeleted:
		return decode[InstallationDeletedEvent](payload)
	case StateStored:
		return decode[StateStoredEvent](payload)
	case StateVerified:
		return decode[StateVerifiedEvent](payload)
	case AppStarted:
		return decode[AppStartedEvent](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decode[T Event](payload []byte) (Event, error) {
	var evt T
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", evt.EventName(), err)
	}
	return evt, nil
}
