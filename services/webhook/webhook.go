package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"kudos/services/lifecycle"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const EventHeader = "X-Kudos-Event"

type envelope struct {
	Event   lifecycle.EventName `json:"event"`
	Payload lifecycle.Event     `json:"payload"`
}

// Webhook posts lifecycle events to an external URL. Any transport error
// or non-2xx response fails the delivery so the outbox retries it.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook builds a client for url. A nil transport uses
// http.DefaultTransport; either way requests are traced.
func NewWebhook(url string, timeout time.Duration, transport http.RoundTripper) *Webhook {
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := resty.New().
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(transport)).
		SetHeader("Content-Type", "application/json")
	return &Webhook{client: client, url: url}
}

func (w *Webhook) Handle(ctx context.Context, evt lifecycle.Event) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader(EventHeader, string(evt.EventName())).
		SetBody(envelope{Event: evt.EventName(), Payload: evt}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook responded %s", resp.Status())
	}

	zap.L().Debug("webhook delivered",
		zap.String("event_name", string(evt.EventName())),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", resp.Time()))
	return nil
}
