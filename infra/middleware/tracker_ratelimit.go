package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tracker_server/pkg/apperr"
	"tracker_server/pkg/ratelimit"
)

// RateLimit rejects requests over the limiter's budget with 429. Requests
// are keyed by user id, or client IP before authentication.
func RateLimit(l ratelimit.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := UserID(c)
		if key == "" {
			key = c.IP()
		}

		ok, wait := l.Allow(c.UserContext(), key)
		if ok {
			return c.Next()
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return apperr.RateLimited(retryAfter)
	}
}
