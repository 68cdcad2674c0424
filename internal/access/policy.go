// Package access 集中处理角色鉴权：每个 (actor, resource, action) 一个判定函数，
// 业务层不再散落 if role == ... 的判断。
package access

import (
	"surplus_market/internal/model"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Actor 由外部身份解析得到，核心逻辑完全信任。
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Decision 区分“不可见”与“可见但无权操作”：不可见统一返回 NotFound，避免泄露订单是否存在。
type Decision int

const (
	Allow Decision = iota
	Hidden
	Deny
)

// OrderScope 描述列表/统计查询的可见范围。
type OrderScope struct {
	All      bool
	BuyerID  string
	SellerID string
}

type Policy struct{}

func (Policy) OrderScope(a Actor) OrderScope {
	switch a.Role {
	case RoleAdmin:
		return OrderScope{All: true}
	case RoleSeller:
		return OrderScope{SellerID: a.UserID}
	default:
		return OrderScope{BuyerID: a.UserID}
	}
}

// visible: 买家本人、订单内有商品的卖家、管理员。
func (Policy) visible(a Actor, o *model.Order) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleSeller:
		return o.HasSeller(a.UserID)
	case RoleBuyer:
		return o.BuyerID == a.UserID
	}
	return false
}

func (p Policy) CanViewOrder(a Actor, o *model.Order) Decision {
	if p.visible(a, o) {
		return Allow
	}
	return Hidden
}

// CanSetOrderStatus 只有订单内的卖家或管理员能推进履约状态。
func (p Policy) CanSetOrderStatus(a Actor, o *model.Order) Decision {
	if !p.visible(a, o) {
		return Hidden
	}
	if a.IsAdmin() || (a.Role == RoleSeller && o.HasSeller(a.UserID)) {
		return Allow
	}
	return Deny
}

// CanCancelOrder 买家本人可申请取消；卖家与管理员同样可以取消。
// 是否处于可取消状态由状态机判断，不在这里。
func (p Policy) CanCancelOrder(a Actor, o *model.Order) Decision {
	if !p.visible(a, o) {
		return Hidden
	}
	if o.BuyerID == a.UserID {
		return Allow
	}
	return p.CanSetOrderStatus(a, o)
}

func (p Policy) CanSetPaymentStatus(a Actor, o *model.Order) Decision {
	return p.CanSetOrderStatus(a, o)
}

// CanPlaceOrder 只有买家角色可以下单。
func (Policy) CanPlaceOrder(a Actor) bool {
	return a.Role == RoleBuyer && a.UserID != ""
}

func (Policy) CanCreateListing(a Actor) bool {
	return a.Role == RoleSeller || a.IsAdmin()
}

func (Policy) CanEditListing(a Actor, l *model.Listing) bool {
	return a.IsAdmin() || (a.Role == RoleSeller && l.SellerID == a.UserID)
}

func (Policy) CanRunRevaluation(a Actor) bool {
	return a.IsAdmin()
}
