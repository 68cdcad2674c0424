package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPrice_NoDecayAtCreation(t *testing.T) {
	for _, original := range []int64{1, 99, 10000, 123456} {
		got := Price(original, t0, t0.Add(72*time.Hour), DefaultDecayRate, t0)
		assert.Equal(t, original, got)
	}
}

func TestPrice_HalfLifespan(t *testing.T) {
	expiry := t0.Add(10 * 24 * time.Hour)
	got := Price(10000, t0, expiry, DefaultDecayRate, t0.Add(5*24*time.Hour))
	// 100 * e^-0.25 = 77.88
	assert.Equal(t, int64(7788), got)
}

func TestPrice_AtOrAfterExpiry(t *testing.T) {
	expiry := t0.Add(48 * time.Hour)
	assert.Equal(t, FloorPrice, Price(10000, t0, expiry, DefaultDecayRate, expiry))
	assert.Equal(t, FloorPrice, Price(10000, t0, expiry, DefaultDecayRate, expiry.Add(time.Minute)))
}

func TestPrice_NonPositiveLifespan(t *testing.T) {
	assert.Equal(t, FloorPrice, Price(10000, t0, t0, DefaultDecayRate, t0))
	assert.Equal(t, FloorPrice, Price(10000, t0, t0.Add(-time.Hour), DefaultDecayRate, t0))
}

func TestPrice_BeforeCreationIsOriginal(t *testing.T) {
	got := Price(5000, t0, t0.Add(time.Hour), DefaultDecayRate, t0.Add(-time.Hour))
	assert.Equal(t, int64(5000), got)
}

func TestPrice_MonotonicAndBounded(t *testing.T) {
	expiry := t0.Add(7 * 24 * time.Hour)
	for _, original := range []int64{1, 3, 250, 999, 100000} {
		prev := original
		for now := t0; now.Before(expiry.Add(time.Hour)); now = now.Add(37 * time.Minute) {
			p := Price(original, t0, expiry, DefaultDecayRate, now)
			assert.LessOrEqual(t, p, prev, "price rose at %s", now)
			assert.GreaterOrEqual(t, p, FloorPrice)
			assert.LessOrEqual(t, p, original)
			prev = p
		}
	}
}

func TestPrice_StrictlyBelowOriginalOnceElapsed(t *testing.T) {
	expiry := t0.Add(10 * 24 * time.Hour)
	p := Price(10000, t0, expiry, DefaultDecayRate, t0.Add(24*time.Hour))
	assert.Less(t, p, int64(10000))
}

func TestPrice_FloorForTinyOriginal(t *testing.T) {
	expiry := t0.Add(time.Hour)
	// 1 分按曲线四舍五入后仍不低于最低价
	assert.Equal(t, FloorPrice, Price(1, t0, expiry, 5, t0.Add(59*time.Minute)))
}

func TestDiscount(t *testing.T) {
	assert.Equal(t, 0, Discount(10000, 10000))
	assert.Equal(t, 22, Discount(10000, 7788))
	assert.Equal(t, 100, Discount(10000, 0))
	assert.Equal(t, 0, Discount(0, 0))
	// 手动改价高于原价时为负折扣
	assert.Equal(t, -10, Discount(1000, 1100))
}
