package model

// OrderStatus 履约状态机。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:   {OrderConfirmed: true, OrderCancelled: true},
	OrderConfirmed: {OrderPreparing: true},
	OrderPreparing: {OrderReady: true},
	OrderReady:     {OrderDelivered: true},
	OrderDelivered: {},
	OrderCancelled: {},
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal: delivered / cancelled 之后不再流转。
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// PaymentStatus 与履约状态独立。
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// CanSetPayment 支付状态四个取值之间不做顺序约束，只校验取值合法。
func CanSetPayment(_, to PaymentStatus) bool {
	return to.Valid()
}
