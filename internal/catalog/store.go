// Package catalog 临期商品存储：上架、查询、原子改价与扣减库存。
package catalog

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"surplus_market/internal/apperr"
	"surplus_market/internal/model"
	"surplus_market/internal/pricing"
)

// discountExpr 在 SQL 内用行自身的原价计算折扣，改价一条语句完成。
const discountExpr = "CASE WHEN original_price > 0 THEN CAST(ROUND(100.0 * (original_price - ?) / original_price) AS INTEGER) ELSE 0 END"

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// WithTx 返回绑定到事务的 Store，供下单流程在同一事务内扣库存。
func (s *Store) WithTx(tx *gorm.DB) *Store { return &Store{db: tx} }

// ListingFilter 浏览查询条件。
type ListingFilter struct {
	Category   string
	SellerID   string
	ActiveOnly bool
	Now        time.Time
	Page       int
	Limit      int
}

func (s *Store) Create(ctx context.Context, l *model.Listing) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return apperr.StoreUnavailable("create listing", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint) (*model.Listing, error) {
	var l model.Listing
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, apperr.StoreUnavailable("get listing", err)
	}
	return &l, nil
}

// List 分页浏览，按过期时间升序（快过期的排前面）。
func (s *Store) List(ctx context.Context, f ListingFilter) ([]model.Listing, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Listing{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.SellerID != "" {
		q = q.Where("seller_id = ?", f.SellerID)
	}
	if f.ActiveOnly {
		q = activeScope(q, f.Now)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.StoreUnavailable("count listings", err)
	}

	page, limit := normalizePage(f.Page, f.Limit)
	var list []model.Listing
	err := q.Order("expiry_date ASC").Order("id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, 0, apperr.StoreUnavailable("list listings", err)
	}
	return list, total, nil
}

// ListActive 返回 status=active、未过期、有库存的商品；顺序不做保证。
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]model.Listing, error) {
	var list []model.Listing
	if err := activeScope(s.db.WithContext(ctx), now).Find(&list).Error; err != nil {
		return nil, apperr.StoreUnavailable("list active listings", err)
	}
	return list, nil
}

func activeScope(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("status = ? AND expiry_date > ? AND quantity_available > 0",
		string(model.ListingActive), now.UTC())
}

// UpdatePrice 单条 UPDATE 同时写入现价与折扣，不做整批读改写。
// 与卖家编辑并发时后写者生效。
func (s *Store) UpdatePrice(ctx context.Context, id uint, newPrice int64) error {
	if newPrice < 0 {
		return apperr.Validation(apperr.CodeInvalidValue, "price must be >= 0")
	}
	res := s.db.WithContext(ctx).Model(&model.Listing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_price":       newPrice,
			"discount_percentage": gorm.Expr(discountExpr, newPrice),
		})
	if res.Error != nil {
		return apperr.StoreUnavailable("update price", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("listing not found")
	}
	return nil
}

// DecrementQuantity 条件更新扣减库存，库存不足时不做任何修改。价格不受影响。
func (s *Store) DecrementQuantity(ctx context.Context, id uint, amount int) error {
	if amount <= 0 {
		return apperr.Validation(apperr.CodeInvalidValue, "quantity must be >= 1")
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&model.Listing{}).
		Where("id = ? AND quantity_available >= ?", id, amount).
		Updates(map[string]any{
			"quantity_available": gorm.Expr("quantity_available - ?", amount),
			// 右侧表达式读取的是更新前的值
			"status": gorm.Expr("CASE WHEN quantity_available - ? <= 0 THEN ? ELSE status END",
				amount, string(model.ListingSoldOut)),
		})
	if res.Error != nil {
		return apperr.StoreUnavailable("decrement quantity", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var n int64
	if err := db.Model(&model.Listing{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return apperr.StoreUnavailable("decrement quantity", err)
	}
	if n == 0 {
		return apperr.NotFound("listing not found")
	}
	return apperr.InsufficientStock("insufficient stock")
}

// MarkExpired 将已过期但仍为 active 的商品标记为 expired，返回影响行数。
func (s *Store) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Listing{}).
		Where("status = ? AND expiry_date <= ?", string(model.ListingActive), now.UTC()).
		Update("status", string(model.ListingExpired))
	if res.Error != nil {
		return 0, apperr.StoreUnavailable("mark expired", res.Error)
	}
	return res.RowsAffected, nil
}

// ListingPatch 卖家编辑字段，nil 表示不修改。
type ListingPatch struct {
	Name              *string
	Category          *string
	Description       *string
	OriginalPrice     *int64
	CurrentPrice      *int64
	QuantityAvailable *int
	Status            *model.ListingStatus
	ExpiryDate        *time.Time
}

func (p ListingPatch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.Description == nil &&
		p.OriginalPrice == nil && p.CurrentPrice == nil && p.QuantityAvailable == nil &&
		p.Status == nil && p.ExpiryDate == nil
}

// Apply 把 patch 应用到 l 上并返回需要写库的列。价格变动时重算折扣。
func (p ListingPatch) Apply(l *model.Listing) map[string]any {
	cols := map[string]any{}
	if p.Name != nil {
		l.Name = *p.Name
		cols["name"] = l.Name
	}
	if p.Category != nil {
		l.Category = *p.Category
		cols["category"] = l.Category
	}
	if p.Description != nil {
		l.Description = *p.Description
		cols["description"] = l.Description
	}
	if p.OriginalPrice != nil {
		l.OriginalPrice = *p.OriginalPrice
		cols["original_price"] = l.OriginalPrice
	}
	if p.CurrentPrice != nil {
		l.CurrentPrice = *p.CurrentPrice
		cols["current_price"] = l.CurrentPrice
	}
	if p.OriginalPrice != nil || p.CurrentPrice != nil {
		l.DiscountPercentage = pricing.Discount(l.OriginalPrice, l.CurrentPrice)
		cols["discount_percentage"] = l.DiscountPercentage
	}
	if p.QuantityAvailable != nil {
		l.QuantityAvailable = *p.QuantityAvailable
		cols["quantity_available"] = l.QuantityAvailable
	}
	if p.Status != nil {
		l.Status = *p.Status
		cols["status"] = string(l.Status)
	}
	if p.ExpiryDate != nil {
		l.ExpiryDate = p.ExpiryDate.UTC()
		cols["expiry_date"] = l.ExpiryDate
	}
	return cols
}

// Update 写入卖家修改的列，按 id 单条更新。
func (s *Store) Update(ctx context.Context, id uint, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&model.Listing{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return apperr.StoreUnavailable("update listing", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("listing not found")
	}
	return nil
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
