package health

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	pingTimeout     = 2 * time.Second
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

// BacklogCounter reports lifecycle events still waiting for delivery.
type BacklogCounter interface {
	Backlog(ctx context.Context) (int64, error)
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db      *gorm.DB
	redis   *redis.Client
	backlog BacklogCounter
}

type HealthParams struct {
	fx.In
	DB      *gorm.DB       `optional:"true"`
	Redis   *redis.Client  `optional:"true"`
	Backlog BacklogCounter `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:      p.DB,
		redis:   p.Redis,
		backlog: p.Backlog,
	}
}

func Register(r gin.IRouter, h HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

// Readiness fails when the database or redis cannot be reached. The outbox
// backlog is informational only.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	this := &Health{
		Status:  statusHealthy,
		Message: "OK",
	}

	deps := make([]Dependency, 0, 3)
	if h.db != nil {
		dep := Dependency{Name: h.db.Name(), Status: statusHealthy, Message: "OK"}
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: statusHealthy, Message: "OK"}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	if h.backlog != nil {
		dep := Dependency{Name: "outbox", Status: statusHealthy}
		n, err := h.backlog.Backlog(ctx)
		if err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
		} else {
			dep.Message = "backlog " + strconv.FormatInt(n, 10)
		}
		deps = append(deps, dep)
	}

	code := http.StatusOK
	for _, d := range deps {
		if d.Status != statusHealthy && d.Name != "outbox" {
			this.Status = statusUnhealthy
			this.Message = d.Name + " unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	this.Deps = deps

	c.JSON(code, this)
}
