package order

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"surplus_market/internal/access"
	"surplus_market/internal/apperr"
	"surplus_market/internal/metrics"
	"surplus_market/internal/model"
	"surplus_market/internal/queue"
)

const eventProducer = "order-service"

// EventSink 订单事件出口（Redis Stream outbox），可为空。
type EventSink interface {
	Append(ctx context.Context, ev queue.Event) error
}

type Service struct {
	Store  *Store
	Policy access.Policy
	Events EventSink
	Log    logrus.FieldLogger
	Now    func() time.Time
}

func NewService(store *Store, events EventSink, log logrus.FieldLogger) *Service {
	return &Service{
		Store:  store,
		Events: events,
		Log:    log.WithField("component", "order"),
		Now:    time.Now,
	}
}

type CreateOrderInput struct {
	Items                []LineRequest `json:"items"`
	DeliveryAddress      string        `json:"delivery_address"`
	DeliveryInstructions string        `json:"delivery_instructions"`
	PaymentMethod        string        `json:"payment_method"`
	EstimatedDelivery    *time.Time    `json:"estimated_delivery"`
}

type ListResult struct {
	Orders     []model.Order `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

// CreateOrder 校验输入后整单落库；事件在提交之后追加，失败只记日志。
func (s *Service) CreateOrder(ctx context.Context, actor access.Actor, in CreateOrderInput) (*model.Order, error) {
	if !s.Policy.CanPlaceOrder(actor) {
		return nil, apperr.Forbidden("only buyers can place orders")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyOrder, "order must contain at least one item")
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, apperr.Validation(apperr.CodeInvalidValue, "quantity must be >= 1")
		}
		if it.ListingID == 0 {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "listing_id is required")
		}
	}

	o, err := s.Store.Create(ctx, actor.UserID, in.Items, Details{
		DeliveryAddress:      in.DeliveryAddress,
		DeliveryInstructions: in.DeliveryInstructions,
		PaymentMethod:        in.PaymentMethod,
		EstimatedDelivery:    in.EstimatedDelivery,
	}, s.Now())
	if err != nil {
		s.Log.WithError(err).WithField("buyer_id", actor.UserID).Warn("create order failed")
		return nil, err
	}
	metrics.RecordOrderCreated()
	s.Log.WithFields(logrus.Fields{
		"order_code": o.OrderCode,
		"buyer_id":   o.BuyerID,
		"total":      o.TotalAmount,
		"items":      o.EcoImpact.ItemsSaved,
	}).Info("order created")

	lines := make([]queue.OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, queue.OrderLine{
			ListingID: it.ListingID, SellerID: it.SellerID, Quantity: it.Quantity, UnitPrice: it.UnitPrice,
		})
	}
	s.emit(ctx, queue.EventOrderCreated, o.OrderCode, queue.OrderCreatedPayload{
		OrderCode:        o.OrderCode,
		BuyerID:          o.BuyerID,
		TotalAmount:      o.TotalAmount,
		Items:            lines,
		ItemsSaved:       o.EcoImpact.ItemsSaved,
		CO2SavedKg:       o.EcoImpact.CO2SavedKg,
		WaterSavedLiters: o.EcoImpact.WaterSavedLiters,
	})
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, actor access.Actor, f ListFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidValue, "unknown order status")
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidValue, "unknown payment status")
	}
	orders, p, err := s.Store.List(ctx, s.Policy.OrderScope(actor), f)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return &ListResult{Orders: orders, Pagination: p}, nil
}

// GetOrder 对无权查看的调用方与不存在的订单返回同样的 NotFound。
func (s *Service) GetOrder(ctx context.Context, actor access.Actor, code string) (*model.Order, error) {
	o, err := s.Store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.Policy.CanViewOrder(actor, o) != access.Allow {
		return nil, apperr.NotFound("order not found")
	}
	return o, nil
}

// SetOrderStatus 推进履约状态。目标为 cancelled 时走取消规则。
func (s *Service) SetOrderStatus(ctx context.Context, actor access.Actor, code string, to model.OrderStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidValue, "unknown order status")
	}
	if to == model.OrderCancelled {
		return s.CancelOrder(ctx, actor, code)
	}

	o, err := s.load(ctx, actor, code, s.Policy.CanSetOrderStatus)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if err := Transition(o, to, s.Now()); err != nil {
		metrics.RecordTransition("status", string(to), string(apperr.KindOf(err)))
		return nil, err
	}
	var deliveredAt *time.Time
	if to == model.OrderDelivered {
		deliveredAt = o.ActualDelivery
	}
	if err := s.Store.UpdateStatus(ctx, o.ID, from, to, deliveredAt); err != nil {
		metrics.RecordTransition("status", string(to), string(apperr.KindOf(err)))
		return nil, err
	}
	s.statusChanged(ctx, actor, o, string(from), string(to), queue.EventOrderStatusChanged, "status")
	return o, nil
}

// CancelOrder 仅 pending 可取消；其它状态返回 NOT_CANCELLABLE，订单保持不变。
func (s *Service) CancelOrder(ctx context.Context, actor access.Actor, code string) (*model.Order, error) {
	o, err := s.load(ctx, actor, code, s.Policy.CanCancelOrder)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if err := Cancel(o); err != nil {
		metrics.RecordTransition("status", string(model.OrderCancelled), string(apperr.KindOf(err)))
		return nil, err
	}
	if err := s.Store.UpdateStatus(ctx, o.ID, from, model.OrderCancelled, nil); err != nil {
		if apperr.Is(err, apperr.KindInvalidTransition) {
			// 并发下已被推进到其它状态
			err = apperr.InvalidTransition(apperr.CodeNotCancellable, "order is no longer pending")
		}
		metrics.RecordTransition("status", string(model.OrderCancelled), string(apperr.KindOf(err)))
		return nil, err
	}
	s.statusChanged(ctx, actor, o, string(from), string(model.OrderCancelled), queue.EventOrderStatusChanged, "status")
	return o, nil
}

// SetPaymentStatus 支付状态四个取值之间可任意设置，只校验取值与权限。
func (s *Service) SetPaymentStatus(ctx context.Context, actor access.Actor, code string, to model.PaymentStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidValue, "unknown payment status")
	}
	o, err := s.load(ctx, actor, code, s.Policy.CanSetPaymentStatus)
	if err != nil {
		return nil, err
	}
	from := o.PaymentStatus
	if err := SetPayment(o, to); err != nil {
		return nil, err
	}
	if err := s.Store.UpdatePaymentStatus(ctx, o.ID, to); err != nil {
		metrics.RecordTransition("payment", string(to), string(apperr.KindOf(err)))
		return nil, err
	}
	s.statusChanged(ctx, actor, o, string(from), string(to), queue.EventOrderPaymentChanged, "payment")
	return o, nil
}

// StatsSummary 按角色可见范围统计，时间区间为 [from, to)。
func (s *Service) StatsSummary(ctx context.Context, actor access.Actor, from, to *time.Time) (*Summary, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "from must be before to")
	}
	return s.Store.Stats(ctx, s.Policy.OrderScope(actor), from, to)
}

// UserStats 调用方自己的累计环保指标。
func (s *Service) UserStats(ctx context.Context, actor access.Actor) (*model.UserStats, error) {
	if actor.UserID == "" {
		return nil, apperr.Unauthenticated("missing user")
	}
	return s.Store.UserStats(ctx, actor.UserID)
}

// load 读取订单并做鉴权：不可见返回 NotFound，可见但无权返回 Forbidden。
func (s *Service) load(ctx context.Context, actor access.Actor, code string,
	decide func(access.Actor, *model.Order) access.Decision) (*model.Order, error) {
	o, err := s.Store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	switch decide(actor, o) {
	case access.Allow:
		return o, nil
	case access.Deny:
		return nil, apperr.Forbidden("not allowed to modify this order")
	default:
		return nil, apperr.NotFound("order not found")
	}
}

func (s *Service) statusChanged(ctx context.Context, actor access.Actor, o *model.Order, from, to, eventType, kind string) {
	metrics.RecordTransition(kind, to, "ok")
	s.Log.WithFields(logrus.Fields{
		"order_code": o.OrderCode,
		"kind":       kind,
		"from":       from,
		"to":         to,
		"actor_id":   actor.UserID,
	}).Info("order updated")
	s.emit(ctx, eventType, o.OrderCode, queue.OrderStatusChangedPayload{
		OrderCode: o.OrderCode,
		From:      from,
		To:        to,
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
	})
}

func (s *Service) emit(ctx context.Context, eventType, code string, payload any) {
	if s.Events == nil {
		return
	}
	ev, err := queue.NewEvent(eventType, eventProducer, code, payload, s.Now())
	if err == nil {
		err = s.Events.Append(ctx, ev)
	}
	if err != nil {
		s.Log.WithError(err).WithField("order_code", code).Warn("append order event")
	}
}
