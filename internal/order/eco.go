package order

import (
	"math"

	"surplus_market/internal/model"
)

// 每件商品的固定环保系数，不区分品类。
const (
	CO2PerItemKg       = 0.2
	WaterPerItemLiters = 40.0
)

// ComputeEcoImpact 只在下单时计算一次。
func ComputeEcoImpact(items []model.OrderItem) model.EcoImpact {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return model.EcoImpact{
		ItemsSaved:       n,
		CO2SavedKg:       round3(float64(n) * CO2PerItemKg),
		WaterSavedLiters: round3(float64(n) * WaterPerItemLiters),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
