package model

import "time"

// ListingStatus 商品上架状态，由卖家或定时任务维护，不参与定价计算。
type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingInactive ListingStatus = "inactive"
	ListingSoldOut  ListingStatus = "sold_out"
	ListingExpired  ListingStatus = "expired"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingInactive, ListingSoldOut, ListingExpired:
		return true
	}
	return false
}

// Listing 临期商品：价格随时间向过期日衰减。
type Listing struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SellerID   string `gorm:"size:64;not null;index" json:"seller_id"`
	SellerName string `gorm:"size:128" json:"seller_name"`
	StoreName  string `gorm:"size:128" json:"store_name"`

	Name        string `gorm:"size:128;not null" json:"name"`
	Category    string `gorm:"size:64;index" json:"category"`
	Description string `gorm:"size:1024" json:"description"`

	// 金额单位：分
	OriginalPrice      int64 `gorm:"not null" json:"original_price"`
	CurrentPrice       int64 `gorm:"not null" json:"current_price"`
	DiscountPercentage int   `gorm:"not null;default:0" json:"discount_percentage"`

	QuantityAvailable int           `gorm:"not null;default:0" json:"quantity_available"`
	Status            ListingStatus `gorm:"size:16;not null;default:'active';index" json:"status"`
	ExpiryDate        time.Time     `gorm:"not null;index" json:"expiry_date"`
}

func (Listing) TableName() string { return "listings" }

// Sellable reports whether the listing can be bought at now.
func (l Listing) Sellable(now time.Time) bool {
	return l.Status == ListingActive && l.ExpiryDate.After(now) && l.QuantityAvailable > 0
}
