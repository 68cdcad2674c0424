package redis

import "fmt"

// RevaluationLockKey 重估任务的分布式互斥锁，保证同一时刻只有一个实例在跑。
func RevaluationLockKey() string {
	return "surplus:revaluation:lock"
}

// CheckoutIdempotencyKey 将客户端幂等键映射到订单号，按买家隔离。
func CheckoutIdempotencyKey(buyerID, idemKey string) string {
	return fmt.Sprintf("surplus:idem:checkout:%s:%s", buyerID, idemKey)
}

// RateLimitKey 下单接口按用户限流。
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("surplus:rate_limit:%s:%s", scope, subject)
}
