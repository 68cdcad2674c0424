package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值等于持有者 token 时才删除，避免误删他人续上的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock 基于 SET NX PX 的简单互斥锁。
type Lock struct {
	rdb *rd.Client
	key string
	ttl time.Duration
}

func NewLock(rdb *rd.Client, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// Acquire 抢锁成功返回 true；token 由调用方生成，释放时必须一致。
func (l *Lock) Acquire(ctx context.Context, token string) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
}

// Release 安全释放锁，锁已过期或被他人持有时不做任何事。
func (l *Lock) Release(ctx context.Context, token string) error {
	_, err := l.rdb.Eval(ctx, luaReleaseIfMatch, []string{l.key}, token).Int()
	return err
}
