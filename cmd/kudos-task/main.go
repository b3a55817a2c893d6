package main

import (
	"log"

	"kudos/pkg/config"
	"kudos/pkg/logger"
	"kudos/pkg/otelcol"
	"kudos/pkg/profiling"
	"kudos/pkg/task"
	"kudos/services/webhook"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		task.Server,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(webhook.TypePointsAwarded, webhook.HandlePointsAwarded)
}
