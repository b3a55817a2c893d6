package install

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("install",
	fx.Provide(
		NewStore,
		NewHandler,
	),
	fx.Invoke(func(r *gin.Engine, h *Handler) { RegisterRoutes(r, h) }),
)
