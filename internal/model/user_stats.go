package model

import "time"

// UserStats 买家累计指标，每成功下单一次累加一次。
type UserStats struct {
	UserID    string    `gorm:"primarykey;size:64" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TotalOrders      int64      `gorm:"not null;default:0" json:"total_orders"`
	TotalSpent       int64      `gorm:"not null;default:0" json:"total_spent"`
	ItemsSaved       int64      `gorm:"not null;default:0" json:"items_saved"`
	CO2SavedKg       float64    `gorm:"column:co2_saved_kg;not null;default:0" json:"co2_saved_kg"`
	WaterSavedLiters float64    `gorm:"not null;default:0" json:"water_saved_liters"`
	LastOrderDate    *time.Time `json:"last_order_date,omitempty"`
}

func (UserStats) TableName() string { return "user_stats" }

// AllModels 建表入口，cmd 与测试共用。
func AllModels() []any {
	return []any{&Listing{}, &Order{}, &OrderItem{}, &UserStats{}}
}
