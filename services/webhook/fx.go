package webhook

import (
	"kudos/pkg/config"
	"kudos/pkg/task"
	"kudos/services/lifecycle"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("webhook",
	fx.Invoke(Register),
)

type Params struct {
	fx.In
	Bus      *lifecycle.Bus
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

// Register subscribes the configured listeners to points.awarded and
// returns their subscriptions.
func Register(p Params) []lifecycle.Subscription {
	var subs []lifecycle.Subscription

	if wh := p.Config.Webhook; wh.Enable && wh.URL != "" {
		hook := NewWebhook(wh.URL, wh.Timeout, nil)
		subs = append(subs, p.Bus.On(lifecycle.Awarded, hook.Handle))
		zap.L().Info("webhook listener registered", zap.String("url", wh.URL))
	} else if wh.Enable {
		zap.L().Warn("webhook enabled without WEBHOOK.URL, listener not registered")
	}

	if p.Enqueuer != nil {
		fwd := NewForwarder(p.Enqueuer)
		subs = append(subs, p.Bus.On(lifecycle.Awarded, fwd.Handle))
		zap.L().Info("task forwarder registered", zap.String("task_type", TypePointsAwarded))
	}

	return subs
}
