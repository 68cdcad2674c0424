package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// idemPending 表示该幂等键对应的下单请求仍在处理中。
	idemPending = "pending"
	idemPrefix  = "order:"
)

// IdemState 幂等键当前状态。
type IdemState struct {
	Claimed   bool   // 本次请求拿到了处理权
	InFlight  bool   // 另一个请求正在处理
	OrderCode string // 已完成时对应的订单号
}

// ClaimCheckout 尝试占用幂等键：未占用则标记 pending 并返回 Claimed。
func ClaimCheckout(ctx context.Context, rdb *rd.Client, buyerID, idemKey string, ttl time.Duration) (IdemState, error) {
	key := CheckoutIdempotencyKey(buyerID, idemKey)
	ok, err := rdb.SetNX(ctx, key, idemPending, ttl).Result()
	if err != nil {
		return IdemState{}, err
	}
	if ok {
		return IdemState{Claimed: true}, nil
	}

	v, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			// 刚好过期，按占用失败处理，让客户端重试
			return IdemState{InFlight: true}, nil
		}
		return IdemState{}, err
	}
	if code, found := strings.CutPrefix(v, idemPrefix); found {
		return IdemState{OrderCode: code}, nil
	}
	return IdemState{InFlight: true}, nil
}

// CompleteCheckout 记录幂等键对应的订单号，并刷新 TTL。
func CompleteCheckout(ctx context.Context, rdb *rd.Client, buyerID, idemKey, orderCode string, ttl time.Duration) error {
	return rdb.Set(ctx, CheckoutIdempotencyKey(buyerID, idemKey), idemPrefix+orderCode, ttl).Err()
}

// ReleaseCheckout 下单失败时释放 pending 占位，允许客户端用同一个键重试。
func ReleaseCheckout(ctx context.Context, rdb *rd.Client, buyerID, idemKey string) error {
	key := CheckoutIdempotencyKey(buyerID, idemKey)
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{key}, idemPending).Int()
	return err
}
