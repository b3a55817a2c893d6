package ratelimit

import (
	"strings"

	"kudos/pkg/config"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(New),
)

type Params struct {
	fx.In
	Config *config.Config
	Clock  clockwork.Clock
	Redis  *redis.Client `optional:"true"`
}

// New builds the limiter selected by AWARDS.RATE_LIMIT_BACKEND.
func New(p Params) Limiter {
	a := p.Config.Awards
	if strings.EqualFold(a.RateLimitBackend, "redis") {
		if p.Redis != nil {
			zap.L().Info("award rate limiter backed by redis", zap.Int("max", a.RateLimitMax), zap.Duration("window", a.RateLimitWindow))
			return NewRedisLimiter(p.Redis, a.RateLimitMax, a.RateLimitWindow, p.Clock)
		}
		zap.L().Warn("redis rate limiter requested without a redis client, using in-memory windows")
	}

	zap.L().Info("award rate limiter in memory", zap.Int("max", a.RateLimitMax), zap.Duration("window", a.RateLimitWindow))
	return NewWindowLimiter(a.RateLimitMax, a.RateLimitWindow, p.Clock)
}
