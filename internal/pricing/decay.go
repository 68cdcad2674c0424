// Package pricing computes the time-decayed price of a perishable listing.
//
// All amounts are in cents. The curve is
//
//	price = original * e^(-rate * elapsed/lifespan)
//
// rounded to the nearest cent and never below FloorPrice. Once the listing
// reaches its expiry (or has a non-positive lifespan) the floor price applies.
package pricing

import (
	"math"
	"time"
)

const (
	// DefaultDecayRate 默认衰减系数，到期前一刻约为原价的 e^-0.5 ≈ 60.65%。
	DefaultDecayRate = 0.5
	// FloorPrice 最低价 0.01，避免下游出现 0 元或除零。
	FloorPrice int64 = 1
)

// Price returns the current price of a listing at now. It has no side effects.
func Price(original int64, createdAt, expiry time.Time, rate float64, now time.Time) int64 {
	lifespan := expiry.Sub(createdAt)
	elapsed := now.Sub(createdAt)
	if lifespan <= 0 || elapsed >= lifespan {
		return FloorPrice
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if rate < 0 {
		rate = 0
	}

	ratio := float64(elapsed) / float64(lifespan)
	candidate := float64(original) * math.Exp(-rate*ratio)
	p := int64(math.Round(candidate))
	if p < FloorPrice {
		return FloorPrice
	}
	return p
}

// Discount 折扣百分比 = round(100 * (original - current) / original)；原价非正时返回 0。
func Discount(original, current int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(original-current) / float64(original)))
}
