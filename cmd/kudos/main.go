package main

import (
	"context"
	"log"

	"kudos/pkg/config"
	"kudos/pkg/db"
	"kudos/pkg/health"
	"kudos/pkg/logger"
	"kudos/pkg/otelcol"
	"kudos/pkg/profiling"
	"kudos/pkg/redis"
	"kudos/pkg/server"
	"kudos/pkg/task"
	"kudos/services/install"
	"kudos/services/lifecycle"
	"kudos/services/outbox"
	"kudos/services/points"
	"kudos/services/ratelimit"
	"kudos/services/webhook"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(
			provideSnowflakeNode,
			provideClock,
			providePointsSink,
			provideInstallSink,
			provideBacklog,
		),
		lifecycle.Module,
		ratelimit.Module,
		outbox.Module,
		points.Module,
		install.Module,
		webhook.Module,
		health.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate, announceStart),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func provideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// The outbox store is the durable sink for every service's lifecycle events.
func providePointsSink(s *outbox.Store) points.EventSink   { return s }
func provideInstallSink(s *outbox.Store) install.EventSink { return s }
func provideBacklog(s *outbox.Store) health.BacklogCounter { return s }

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}

	var models []any
	models = append(models, points.Models()...)
	models = append(models, outbox.Models()...)
	models = append(models, install.Models()...)
	return db.Migrate(conn, models...)
}

// announceStart records app.started once the HTTP listener is up. Hooks run
// in registration order, so this fires after server.Run's OnStart.
func announceStart(lc fx.Lifecycle, cfg *config.Config, store *outbox.Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Enqueue(ctx, lifecycle.AppStartedEvent{Port: cfg.Server.Addr}); err != nil {
				zap.L().Warn("failed to record app.started", zap.Error(err))
			}
			return nil
		},
	})
}
