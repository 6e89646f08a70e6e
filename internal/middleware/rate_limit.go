package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// ClaimRateLimit limits claim submissions per principal per minute using
// Redis. It is a no-op without Redis and fails open on cache errors.
func ClaimRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		who, _ := c.Locals(principalIDLocal).(string)
		if who == "" {
			who = c.IP()
		}
		window := time.Now().UTC().Truncate(time.Minute).Unix()
		key := fmt.Sprintf("rl:claims:%s:%d", who, window)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many claims submitted, try again later")
		}
		return c.Next()
	}
}
