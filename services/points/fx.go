package points

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("points",
	fx.Provide(
		NewLedger,
		NewService,
		NewHandler,
	),
	fx.Invoke(
		RegisterMetrics,
		func(r *gin.Engine, h *Handler) { RegisterRoutes(r, h) },
	),
)
