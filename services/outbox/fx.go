package outbox

import (
	"context"

	"kudos/pkg/config"
	"kudos/services/lifecycle"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox",
	fx.Provide(
		NewStore,
		provideMetrics,
		provideWorker,
	),
	fx.Invoke(registerWorker, registerStatusCollector),
)

func provideMetrics(reg prometheus.Registerer) (MetricsCollector, error) {
	return NewPrometheusMetrics(reg)
}

func registerStatusCollector(reg prometheus.Registerer, store *Store) error {
	return reg.Register(NewStatusCollector(store))
}

type WorkerParams struct {
	fx.In
	Store   *Store
	Bus     *lifecycle.Bus
	Config  *config.Config
	Clock   clockwork.Clock
	Metrics MetricsCollector
}

func provideWorker(p WorkerParams) *Worker {
	return NewWorker(p.Store, p.Bus, ConfigFrom(p.Config.Outbox), p.Clock, p.Metrics)
}

func registerWorker(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}
