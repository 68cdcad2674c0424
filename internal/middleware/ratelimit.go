package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"surplus_market/internal/logging"
	rediskey "surplus_market/pkg/redis"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前毫秒，ARGV[2]=窗口起点毫秒，ARGV[3]=窗口秒数，ARGV[4]=成员，ARGV[5]=上限
// 返回：当前窗口内的请求数；已达上限返回 -1
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`

// RedisRateLimit 按调用方限流：已认证时按用户 id，否则按 IP。
// Redis 不可用时放行，不让限流拖垮下单。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	windowSec := int64(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if a, ok := ActorFrom(c); ok {
			subject = "user:" + a.UserID
		}
		key := rediskey.RateLimitKey(scope, subject)

		now := time.Now()
		nowMs := now.UnixMilli()
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMs, nowMs-windowSec*1000, windowSec, member, limit).Int()
		if err != nil {
			logging.FromGin(c).WithError(err).Warn("rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if res < 0 {
			c.Header("Retry-After", fmt.Sprint(windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"err":  "RATE_LIMITED",
				"msg":  "too many requests, please retry later",
			})
			return
		}
		c.Next()
	}
}
