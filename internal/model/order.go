package model

import "time"

// Order 一次下单交易，创建后只能通过状态流转修改，不做物理删除。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderCode string      `gorm:"size:64;uniqueIndex;not null" json:"order_code"`
	BuyerID   string      `gorm:"size:64;not null;index" json:"buyer_id"`
	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items"`

	TotalAmount   int64         `gorm:"not null" json:"total_amount"` // 单位：分
	Status        OrderStatus   `gorm:"size:16;not null;default:'pending';index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:16;not null;default:'pending';index" json:"payment_status"`
	PaymentMethod string        `gorm:"size:32" json:"payment_method,omitempty"`

	EcoImpact EcoImpact `gorm:"embedded;embeddedPrefix:eco_" json:"eco_impact"`

	DeliveryAddress      string     `gorm:"size:512" json:"delivery_address,omitempty"`
	DeliveryInstructions string     `gorm:"size:512" json:"delivery_instructions,omitempty"`
	EstimatedDelivery    *time.Time `json:"estimated_delivery,omitempty"`
	ActualDelivery       *time.Time `json:"actual_delivery,omitempty"`
}

func (Order) TableName() string { return "orders" }

// HasSeller reports whether sellerID contributed at least one line item.
func (o Order) HasSeller(sellerID string) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

// OrderItem 下单时的商品快照，写入后不再修改。
type OrderItem struct {
	ID      uint `gorm:"primarykey" json:"-"`
	OrderID uint `gorm:"not null;index" json:"-"`

	ListingID  uint   `gorm:"not null;index" json:"listing_id"`
	Name       string `gorm:"size:128;not null" json:"name"`
	Quantity   int    `gorm:"not null" json:"quantity"`
	UnitPrice  int64  `gorm:"not null" json:"unit_price"`
	TotalPrice int64  `gorm:"not null" json:"total_price"`

	SellerID   string `gorm:"size:64;not null;index" json:"seller_id"`
	SellerName string `gorm:"size:128" json:"seller_name"`
	StoreName  string `gorm:"size:128" json:"store_name"`
}

func (OrderItem) TableName() string { return "order_items" }

// EcoImpact 下单时一次性计算，之后不再重算。
type EcoImpact struct {
	ItemsSaved       int     `gorm:"not null;default:0" json:"items_saved"`
	CO2SavedKg       float64 `gorm:"column:co2_saved_kg;not null;default:0" json:"co2_saved_kg"`
	WaterSavedLiters float64 `gorm:"not null;default:0" json:"water_saved_liters"`
}
