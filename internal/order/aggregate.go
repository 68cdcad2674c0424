// Package order 订单聚合：下单快照、金额校验、环保指标，以及履约/支付状态机。
package order

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"surplus_market/internal/apperr"
	"surplus_market/internal/model"
)

const codeRandLen = 9

// base36^9，保证随机段正好 9 位。
var codeRandMod = uint64(math.Pow(36, codeRandLen))

// NewOrderCode 生成 ORD-<毫秒时间戳>-<9 位大写 base36 随机串>。
// 唯一性靠时间戳加随机数，库里的自增 id 与唯一索引兜底。
func NewOrderCode(now time.Time) string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) % codeRandMod
	rnd := strings.ToUpper(strconv.FormatUint(n, 36))
	if len(rnd) < codeRandLen {
		rnd = strings.Repeat("0", codeRandLen-len(rnd)) + rnd
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), rnd)
}

// Details 买家填写的可选信息。
type Details struct {
	DeliveryAddress      string
	DeliveryInstructions string
	PaymentMethod        string
	EstimatedDelivery    *time.Time
}

// Build 用已快照的明细组装新订单：计算行小计与总额、环保指标、订单号。
// 明细里的 UnitPrice 必须已经是下单时刻的价格。
func Build(buyerID string, items []model.OrderItem, d Details, now time.Time) (*model.Order, error) {
	if len(items) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyOrder, "order must contain at least one item")
	}
	now = now.UTC()

	lines := make([]model.OrderItem, len(items))
	var total int64
	for i, it := range items {
		if it.Quantity < 1 {
			return nil, apperr.Validation(apperr.CodeInvalidValue, "quantity must be >= 1")
		}
		if it.UnitPrice < 0 {
			return nil, apperr.Validation(apperr.CodeInvalidValue, "unit price must be >= 0")
		}
		it.TotalPrice = int64(it.Quantity) * it.UnitPrice
		total += it.TotalPrice
		lines[i] = it
	}

	o := &model.Order{
		CreatedAt:            now,
		UpdatedAt:            now,
		OrderCode:            NewOrderCode(now),
		BuyerID:              buyerID,
		Items:                lines,
		TotalAmount:          total,
		Status:               model.OrderPending,
		PaymentStatus:        model.PaymentPending,
		PaymentMethod:        d.PaymentMethod,
		EcoImpact:            ComputeEcoImpact(lines),
		DeliveryAddress:      d.DeliveryAddress,
		DeliveryInstructions: d.DeliveryInstructions,
		EstimatedDelivery:    d.EstimatedDelivery,
	}
	if err := VerifyTotals(o); err != nil {
		return nil, err
	}
	return o, nil
}

// VerifyTotals 校验 total_amount == Σ 行小计，且每行小计 == 数量 × 单价。
func VerifyTotals(o *model.Order) error {
	var sum int64
	for _, it := range o.Items {
		if it.TotalPrice != int64(it.Quantity)*it.UnitPrice {
			return fmt.Errorf("order %s: line %d total %d != %d x %d",
				o.OrderCode, it.ListingID, it.TotalPrice, it.Quantity, it.UnitPrice)
		}
		sum += it.TotalPrice
	}
	if sum != o.TotalAmount {
		return fmt.Errorf("order %s: total %d != sum of lines %d", o.OrderCode, o.TotalAmount, sum)
	}
	return nil
}

// Transition 在内存中推进履约状态；进入 delivered 时写入一次实际送达时间。
func Transition(o *model.Order, to model.OrderStatus, now time.Time) error {
	if !to.Valid() {
		return apperr.Validation(apperr.CodeInvalidValue, "unknown order status")
	}
	if !model.CanTransition(o.Status, to) {
		return apperr.InvalidTransition(apperr.CodeInvalidTransition,
			fmt.Sprintf("cannot move order from %s to %s", o.Status, to))
	}
	o.Status = to
	if to == model.OrderDelivered && o.ActualDelivery == nil {
		t := now.UTC()
		o.ActualDelivery = &t
	}
	return nil
}

// Cancel 仅 pending 可取消，其它状态一律 NOT_CANCELLABLE，订单不变。
func Cancel(o *model.Order) error {
	if o.Status != model.OrderPending {
		return apperr.InvalidTransition(apperr.CodeNotCancellable,
			fmt.Sprintf("order in status %s cannot be cancelled", o.Status))
	}
	o.Status = model.OrderCancelled
	return nil
}

// SetPayment 支付状态只校验取值。
func SetPayment(o *model.Order, to model.PaymentStatus) error {
	if !model.CanSetPayment(o.PaymentStatus, to) {
		return apperr.Validation(apperr.CodeInvalidValue, "unknown payment status")
	}
	o.PaymentStatus = to
	return nil
}
