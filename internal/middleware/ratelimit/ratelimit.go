package ratelimit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lumosfitness/storefront/internal/cache"
	"github.com/lumosfitness/storefront/internal/logging"
)

// Middleware counts requests per client ip and route in redis and
// rejects above the limit. Checkout uses a much tighter limit than read
// endpoints to bound repeated failed reservation attempts. Fails open:
// an unreachable counter must not take the endpoint down with it.
func Middleware(c *cache.Cache, limit int64, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			ctx := ec.Request().Context()
			key := cache.RateKey(ec.RealIP() + ":" + ec.Path())

			n, err := c.Incr(ctx, key, window)
			if err != nil {
				logging.FromContext(ctx).Warn("rate limiter unavailable", "error", err)
				return next(ec)
			}
			if n > limit {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
			}
			return next(ec)
		}
	}
}
