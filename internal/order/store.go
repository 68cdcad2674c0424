package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"surplus_market/internal/access"
	"surplus_market/internal/apperr"
	"surplus_market/internal/catalog"
	"surplus_market/internal/model"
)

// LineRequest 买家下单的一行：商品与数量，价格由服务端读取。
type LineRequest struct {
	ListingID uint `json:"listing_id"`
	Quantity  int  `json:"quantity"`
}

// ListFilter 订单列表过滤条件，时间区间为 [From, To)。
type ListFilter struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// Summary 订单统计：汇总值、状态分布、最近 5 单。
type Summary struct {
	TotalOrders      int64                       `json:"total_orders"`
	TotalRevenue     int64                       `json:"total_revenue"`
	ItemsSaved       int64                       `json:"items_saved"`
	CO2SavedKg       float64                     `json:"co2_saved_kg"`
	WaterSavedLiters float64                     `json:"water_saved_liters"`
	StatusCounts     map[model.OrderStatus]int64 `json:"status_counts"`
	RecentOrders     []model.Order               `json:"recent_orders"`
}

const recentOrdersLimit = 5

type Store struct {
	db      *gorm.DB
	catalog *catalog.Store
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, catalog: catalog.NewStore(db)}
}

// Create 在一个事务里完成整单：读商品快照价格、扣库存、写订单与明细、累加买家统计。
// 任一步失败整体回滚，不会留下半张订单。
func (s *Store) Create(ctx context.Context, buyerID string, lines []LineRequest, d Details, now time.Time) (*model.Order, error) {
	now = now.UTC()
	var created *model.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listings := s.catalog.WithTx(tx)

		items := make([]model.OrderItem, 0, len(lines))
		for _, line := range lines {
			l, err := listings.Get(ctx, line.ListingID)
			if err != nil {
				return err
			}
			if l.Status != model.ListingActive || !l.ExpiryDate.After(now) {
				return apperr.Validation(apperr.CodeInvalidInput,
					fmt.Sprintf("listing %d is not available", l.ID))
			}
			// 先扣库存，失败时不会写入任何订单数据
			if err := listings.DecrementQuantity(ctx, l.ID, line.Quantity); err != nil {
				return err
			}
			items = append(items, model.OrderItem{
				ListingID:  l.ID,
				Name:       l.Name,
				Quantity:   line.Quantity,
				UnitPrice:  l.CurrentPrice,
				SellerID:   l.SellerID,
				SellerName: l.SellerName,
				StoreName:  l.StoreName,
			})
		}

		o, err := Build(buyerID, items, d, now)
		if err != nil {
			return err
		}
		if err := tx.Create(o).Error; err != nil {
			return apperr.StoreUnavailable("insert order", err)
		}
		if err := bumpUserStats(tx, o, now); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.StoreUnavailable("create order", err)
	}
	return created, nil
}

// bumpUserStats upsert 买家累计指标，全部是增量更新。
func bumpUserStats(tx *gorm.DB, o *model.Order, now time.Time) error {
	row := model.UserStats{
		UserID:           o.BuyerID,
		CreatedAt:        now,
		UpdatedAt:        now,
		TotalOrders:      1,
		TotalSpent:       o.TotalAmount,
		ItemsSaved:       int64(o.EcoImpact.ItemsSaved),
		CO2SavedKg:       o.EcoImpact.CO2SavedKg,
		WaterSavedLiters: o.EcoImpact.WaterSavedLiters,
		LastOrderDate:    &now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_orders":       gorm.Expr("user_stats.total_orders + excluded.total_orders"),
			"total_spent":        gorm.Expr("user_stats.total_spent + excluded.total_spent"),
			"items_saved":        gorm.Expr("user_stats.items_saved + excluded.items_saved"),
			"co2_saved_kg":       gorm.Expr("user_stats.co2_saved_kg + excluded.co2_saved_kg"),
			"water_saved_liters": gorm.Expr("user_stats.water_saved_liters + excluded.water_saved_liters"),
			"last_order_date":    now,
			"updated_at":         now,
		}),
	}).Create(&row).Error
	if err != nil {
		return apperr.StoreUnavailable("update user stats", err)
	}
	return nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("order_code = ?", code).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.StoreUnavailable("find order", err)
	}
	return &o, nil
}

// scoped 每次返回新的查询链，按角色可见范围与时间区间过滤。
func (s *Store) scoped(ctx context.Context, scope access.OrderScope, from, to *time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Order{})
	switch {
	case scope.All:
	case scope.SellerID != "":
		sub := s.db.Model(&model.OrderItem{}).Select("order_id").Where("seller_id = ?", scope.SellerID)
		q = q.Where("orders.id IN (?)", sub)
	default:
		q = q.Where("orders.buyer_id = ?", scope.BuyerID)
	}
	if from != nil {
		q = q.Where("orders.created_at >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("orders.created_at < ?", to.UTC())
	}
	return q
}

// List 按可见范围分页查询，最新的在前。
func (s *Store) List(ctx context.Context, scope access.OrderScope, f ListFilter) ([]model.Order, Pagination, error) {
	q := s.scoped(ctx, scope, f.From, f.To)
	if f.Status != "" {
		q = q.Where("orders.status = ?", string(f.Status))
	}
	if f.PaymentStatus != "" {
		q = q.Where("orders.payment_status = ?", string(f.PaymentStatus))
	}

	page, limit := normalizePage(f.Page, f.Limit)
	p := Pagination{Page: page, Limit: limit}
	if err := q.Count(&p.Total).Error; err != nil {
		return nil, p, apperr.StoreUnavailable("count orders", err)
	}
	p.Pages = (p.Total + int64(limit) - 1) / int64(limit)

	var list []model.Order
	err := q.Preload("Items").
		Order("orders.created_at DESC").Order("orders.id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, p, apperr.StoreUnavailable("list orders", err)
	}
	return list, p, nil
}

// UpdateStatus 以旧状态为条件更新（compare-and-set），并发的两次流转只有一次生效。
func (s *Store) UpdateStatus(ctx context.Context, id uint, from, to model.OrderStatus, deliveredAt *time.Time) error {
	cols := map[string]any{"status": string(to)}
	if deliveredAt != nil {
		cols["actual_delivery"] = deliveredAt.UTC()
	}
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(cols)
	if res.Error != nil {
		return apperr.StoreUnavailable("update order status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidTransition(apperr.CodeInvalidTransition, "order status changed concurrently, reload and retry")
	}
	return nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id uint, to model.PaymentStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", id).
		Update("payment_status", string(to))
	if res.Error != nil {
		return apperr.StoreUnavailable("update payment status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("order not found")
	}
	return nil
}

// Stats 汇总可见范围内的订单；卖家视角按整单金额统计。
func (s *Store) Stats(ctx context.Context, scope access.OrderScope, from, to *time.Time) (*Summary, error) {
	var totals struct {
		TotalOrders      int64
		TotalRevenue     int64
		ItemsSaved       int64
		CO2SavedKg       float64 `gorm:"column:co2_saved_kg"`
		WaterSavedLiters float64
	}
	err := s.scoped(ctx, scope, from, to).Select(
		"COUNT(*) AS total_orders, " +
			"COALESCE(SUM(orders.total_amount), 0) AS total_revenue, " +
			"COALESCE(SUM(orders.eco_items_saved), 0) AS items_saved, " +
			"COALESCE(SUM(orders.eco_co2_saved_kg), 0) AS co2_saved_kg, " +
			"COALESCE(SUM(orders.eco_water_saved_liters), 0) AS water_saved_liters",
	).Scan(&totals).Error
	if err != nil {
		return nil, apperr.StoreUnavailable("order totals", err)
	}

	var hist []struct {
		Status model.OrderStatus
		N      int64
	}
	err = s.scoped(ctx, scope, from, to).
		Select("orders.status AS status, COUNT(*) AS n").
		Group("orders.status").
		Scan(&hist).Error
	if err != nil {
		return nil, apperr.StoreUnavailable("order status histogram", err)
	}

	var recent []model.Order
	err = s.scoped(ctx, scope, from, to).Preload("Items").
		Order("orders.created_at DESC").Order("orders.id DESC").
		Limit(recentOrdersLimit).
		Find(&recent).Error
	if err != nil {
		return nil, apperr.StoreUnavailable("recent orders", err)
	}

	sum := &Summary{
		TotalOrders:      totals.TotalOrders,
		TotalRevenue:     totals.TotalRevenue,
		ItemsSaved:       totals.ItemsSaved,
		CO2SavedKg:       round3(totals.CO2SavedKg),
		WaterSavedLiters: round3(totals.WaterSavedLiters),
		StatusCounts:     make(map[model.OrderStatus]int64, len(hist)),
		RecentOrders:     recent,
	}
	for _, h := range hist {
		sum.StatusCounts[h.Status] = h.N
	}
	return sum, nil
}

// UserStats 买家累计指标；还没下过单时返回全零。
func (s *Store) UserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	var st model.UserStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.UserStats{UserID: userID}, nil
		}
		return nil, apperr.StoreUnavailable("get user stats", err)
	}
	return &st, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
