package points

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"kudos/pkg/config"
	"kudos/pkg/errutil"
	"kudos/services/lifecycle"
	"kudos/services/ratelimit"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	leaderboardLimit = 10
	historyLimit     = 5
	statsLimit       = 5

	unableToAward = "Unable to award points right now."
	noPointsYet   = "No points yet."
)

type RejectionKind int

const (
	RejectNoRecipients RejectionKind = iota + 1
	RejectSelfAward
	RejectTooManyRecipients
	RejectRateLimited
)

// Rejection is an award refused before anything was written. Text is shown
// to the actor as is.
type Rejection struct {
	Kind       RejectionKind
	Text       string
	RetryAfter time.Duration
}

var (
	ErrNoRecipients      = &Rejection{Kind: RejectNoRecipients}
	ErrSelfAward         = &Rejection{Kind: RejectSelfAward}
	ErrTooManyRecipients = &Rejection{Kind: RejectTooManyRecipients}
	ErrRateLimited       = &Rejection{Kind: RejectRateLimited}
)

func (r *Rejection) Error() string {
	if r.Text != "" {
		return r.Text
	}
	return fmt.Sprintf("award rejected (%d)", r.Kind)
}

func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

func (r *Rejection) Status() errutil.CoreStatus {
	if r.Kind == RejectRateLimited {
		return errutil.StatusTooManyRequests
	}
	return errutil.StatusBadRequest
}

func (r *Rejection) outcome() string {
	switch r.Kind {
	case RejectNoRecipients:
		return "no_recipients"
	case RejectSelfAward:
		return "self_award"
	case RejectTooManyRecipients:
		return "too_many_recipients"
	case RejectRateLimited:
		return "rate_limited"
	}
	return "rejected"
}

type AwardRequest struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id"`
	MessageRef  string `json:"message_ref"`
	ThreadRef   string `json:"thread_ref,omitempty"`
	ActorID     string `json:"actor_id"`
	Text        string `json:"text"`
}

type GiveRequest struct {
	WorkspaceID string  `json:"workspace_id"`
	ChannelID   string  `json:"channel_id"`
	TriggerID   string  `json:"trigger_id,omitempty"`
	ActorID     string  `json:"actor_id"`
	RecipientID string  `json:"recipient_id"`
	Reason      *string `json:"reason,omitempty"`
}

type Credit struct {
	RecipientID string `json:"recipient_id"`
	Points      int64  `json:"points"`
	Deduped     bool   `json:"deduped"`
	EventID     int64  `json:"event_id,string,omitempty"`
}

type AwardResult struct {
	MessageRef string   `json:"message_ref"`
	ThreadRef  string   `json:"thread_ref,omitempty"`
	Credits    []Credit `json:"credits"`
	Reason     *string  `json:"reason"`
	Text       string   `json:"text"`
}

// Service turns chat commands into ledger credits and queries, applying
// the award policy and reporting every step on the lifecycle outbox.
type Service struct {
	ledger  *Ledger
	limiter ratelimit.Limiter
	sink    EventSink
	cfg     config.Awards
	clock   clockwork.Clock
	node    *snowflake.Node
	group   singleflight.Group
}

type ServiceParams struct {
	fx.In
	Ledger  *Ledger
	Limiter ratelimit.Limiter
	Config  *config.Config
	Clock   clockwork.Clock
	Node    *snowflake.Node
	Sink    EventSink `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		ledger:  p.Ledger,
		limiter: p.Limiter,
		sink:    p.Sink,
		cfg:     p.Config.Awards,
		clock:   clock,
		node:    p.Node,
	}
}

// Award credits every `<@USER>++` mention in req.Text. The actor is dropped
// from the recipients unless self-awards are allowed.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	if err := requireFields(
		field{"workspace_id", req.WorkspaceID},
		field{"channel_id", req.ChannelID},
		field{"message_ref", req.MessageRef},
		field{"actor_id", req.ActorID},
	); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("channel_id", req.ChannelID),
		zap.String("actor_id", req.ActorID),
		zap.String("message_ref", req.MessageRef),
	)

	mentions := ParseMentions(req.Text)
	if mentions == nil {
		return nil, s.reject("award", &Rejection{Kind: RejectNoRecipients, Text: "No recipients mentioned."})
	}

	recipients := mentions.Recipients
	if !s.cfg.AllowSelfAward {
		recipients = slices.DeleteFunc(slices.Clone(recipients), func(id string) bool { return id == req.ActorID })
	}
	if len(recipients) == 0 {
		log.Info("self-award blocked")
		return nil, s.reject("award", &Rejection{Kind: RejectSelfAward, Text: "Self-awards are not allowed."})
	}

	if s.cfg.MaxRecipients > 0 && len(recipients) > s.cfg.MaxRecipients {
		log.Info("award blocked by recipient cap",
			zap.Int("recipients", len(recipients)),
			zap.Int("max_recipients", s.cfg.MaxRecipients))
		return nil, s.reject("award", &Rejection{
			Kind: RejectTooManyRecipients,
			Text: fmt.Sprintf("Too many recipients. Max per message is %d.", s.cfg.MaxRecipients),
		})
	}

	if err := s.checkRate(ctx, "award", req.WorkspaceID, req.ActorID, len(recipients)); err != nil {
		return nil, err
	}

	log.Info("award received", zap.Int("recipients", len(recipients)))
	s.enqueue(ctx, lifecycle.AwardReceivedEvent{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		MessageRef:  req.MessageRef,
		ThreadRef:   req.ThreadRef,
		ActorID:     req.ActorID,
		Recipients:  recipients,
		Reason:      mentions.Reason,
	})

	credits, err := s.credit(ctx, CreditParams{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		MessageRef:  req.MessageRef,
		ThreadRef:   req.ThreadRef,
		ActorID:     req.ActorID,
		Reason:      mentions.Reason,
	}, recipients)
	if err != nil {
		return nil, s.fail(ctx, "award", req.WorkspaceID, req.ChannelID, req.MessageRef, req.ThreadRef, req.ActorID, recipients, mentions.Reason, err)
	}

	return &AwardResult{
		MessageRef: req.MessageRef,
		ThreadRef:  req.ThreadRef,
		Credits:    credits,
		Reason:     mentions.Reason,
		Text:       awardText(credits, mentions.Reason),
	}, nil
}

// Give is the single-recipient command form of Award. Without a trigger id
// the award gets a freshly generated message ref, so it is never deduped.
func (s *Service) Give(ctx context.Context, req GiveRequest) (*AwardResult, error) {
	if err := requireFields(
		field{"workspace_id", req.WorkspaceID},
		field{"channel_id", req.ChannelID},
		field{"actor_id", req.ActorID},
		field{"recipient_id", req.RecipientID},
	); err != nil {
		return nil, err
	}

	messageRef := req.TriggerID
	if strings.TrimSpace(messageRef) == "" {
		messageRef = strconv.FormatInt(s.node.Generate().Int64(), 10)
	}
	reason := FormatReason(req.Reason)

	if !s.cfg.AllowSelfAward && req.RecipientID == req.ActorID {
		zap.L().Info("give blocked (self-award)",
			zap.String("workspace_id", req.WorkspaceID),
			zap.String("actor_id", req.ActorID))
		return nil, s.reject("give", &Rejection{Kind: RejectSelfAward, Text: "Self-awards are not allowed."})
	}

	if err := s.checkRate(ctx, "give", req.WorkspaceID, req.ActorID, 1); err != nil {
		return nil, err
	}

	recipients := []string{req.RecipientID}
	s.enqueue(ctx, lifecycle.AwardReceivedEvent{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		MessageRef:  messageRef,
		ActorID:     req.ActorID,
		Recipients:  recipients,
		Reason:      reason,
	})

	credits, err := s.credit(ctx, CreditParams{
		WorkspaceID: req.WorkspaceID,
		ChannelID:   req.ChannelID,
		MessageRef:  messageRef,
		ActorID:     req.ActorID,
		Reason:      reason,
	}, recipients)
	if err != nil {
		return nil, s.fail(ctx, "give", req.WorkspaceID, req.ChannelID, messageRef, "", req.ActorID, recipients, reason, err)
	}

	return &AwardResult{
		MessageRef: messageRef,
		Credits:    credits,
		Reason:     reason,
		Text:       awardText(credits, reason),
	}, nil
}

func (s *Service) checkRate(ctx context.Context, command, workspaceID, actorID string, requested int) error {
	decision, err := s.limiter.Check(ctx, workspaceID, actorID, requested)
	if err != nil {
		awardOutcomes.WithLabelValues(command, "failed").Inc()
		return errutil.ServiceUnavailable("rate limiter unavailable", err)
	}
	if decision.Allowed {
		return nil
	}

	retry := decision.RetryAfter(s.clock.Now())
	zap.L().Info("award blocked by rate limit",
		zap.String("workspace_id", workspaceID),
		zap.String("actor_id", actorID),
		zap.Int("requested", requested),
		zap.Duration("retry_after", retry))
	return s.reject(command, &Rejection{
		Kind:       RejectRateLimited,
		Text:       fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", int64(retry/time.Second)),
		RetryAfter: retry,
	})
}

// credit applies each recipient in order. Credits made before a failure
// stay committed; retrying the same message ref dedupes them.
func (s *Service) credit(ctx context.Context, base CreditParams, recipients []string) ([]Credit, error) {
	credits := make([]Credit, 0, len(recipients))
	for _, recipient := range recipients {
		p := base
		p.RecipientID = recipient
		res, err := s.ledger.CreditAward(ctx, p)
		if err != nil {
			return nil, err
		}
		credits = append(credits, Credit{
			RecipientID: recipient,
			Points:      res.Points,
			Deduped:     res.Deduped,
			EventID:     res.EventID,
		})
	}
	return credits, nil
}

func (s *Service) reject(command string, r *Rejection) error {
	awardOutcomes.WithLabelValues(command, r.outcome()).Inc()
	return r
}

func (s *Service) fail(ctx context.Context, command, workspaceID, channelID, messageRef, threadRef, actorID string, recipients []string, reason *string, err error) error {
	awardOutcomes.WithLabelValues(command, "failed").Inc()
	zap.L().Error("failed to record points",
		zap.String("command", command),
		zap.String("workspace_id", workspaceID),
		zap.String("actor_id", actorID),
		zap.String("message_ref", messageRef),
		zap.Error(err))

	s.enqueue(ctx, lifecycle.AwardFailedEvent{
		WorkspaceID:  workspaceID,
		ChannelID:    channelID,
		MessageRef:   messageRef,
		ThreadRef:    threadRef,
		ActorID:      actorID,
		Recipients:   recipients,
		Reason:       reason,
		ErrorMessage: err.Error(),
	})

	if errutil.Is(err, errutil.StatusBadRequest) {
		return err
	}
	return errutil.Internal(unableToAward, err)
}

// enqueue records evt for delivery. The outbox is best-effort from the
// caller's side: a failed enqueue is logged and never fails the command.
func (s *Service) enqueue(ctx context.Context, evt lifecycle.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Enqueue(context.WithoutCancel(ctx), evt); err != nil {
		zap.L().Warn("failed to enqueue lifecycle event",
			zap.String("event_name", string(evt.EventName())),
			zap.Error(err))
	}
}

func awardText(credits []Credit, reason *string) string {
	var b strings.Builder
	if len(credits) == 1 {
		fmt.Fprintf(&b, "<@%s> has %d points.", credits[0].RecipientID, credits[0].Points)
	} else {
		parts := make([]string, len(credits))
		for i, c := range credits {
			parts[i] = fmt.Sprintf("<@%s> (%d)", c.RecipientID, c.Points)
		}
		fmt.Fprintf(&b, "Points awarded: %s.", strings.Join(parts, ", "))
	}
	if display := FormatReason(reason); display != nil {
		fmt.Fprintf(&b, " Most recently for: %s", *display)
	}
	return b.String()
}
