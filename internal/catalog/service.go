package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"surplus_market/internal/access"
	"surplus_market/internal/apperr"
	"surplus_market/internal/model"
	"surplus_market/internal/pricing"
)

// Service 卖家侧商品管理 + 公开浏览，鉴权统一走 access.Policy。
type Service struct {
	Store  *Store
	Policy access.Policy
	Log    logrus.FieldLogger
	Now    func() time.Time
}

func NewService(store *Store, log logrus.FieldLogger) *Service {
	return &Service{Store: store, Log: log, Now: func() time.Time { return time.Now().UTC() }}
}

type CreateListingInput struct {
	Name              string
	Category          string
	Description       string
	SellerName        string
	StoreName         string
	OriginalPrice     int64
	QuantityAvailable int
	ExpiryDate        time.Time
}

func (in CreateListingInput) validate(now time.Time) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "name is required")
	}
	if in.OriginalPrice <= 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "original_price must be > 0")
	}
	if in.QuantityAvailable < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "quantity_available must be >= 0")
	}
	if !in.ExpiryDate.After(now) {
		return apperr.Validation(apperr.CodeInvalidInput, "expiry_date must be in the future")
	}
	return nil
}

// CreateListing 上架，现价初始等于原价。
func (s *Service) CreateListing(ctx context.Context, actor access.Actor, in CreateListingInput) (*model.Listing, error) {
	if !s.Policy.CanCreateListing(actor) {
		return nil, apperr.Forbidden("only sellers can create listings")
	}
	now := s.Now().UTC()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	status := model.ListingActive
	if in.QuantityAvailable == 0 {
		status = model.ListingSoldOut
	}
	l := &model.Listing{
		CreatedAt:         now,
		SellerID:          actor.UserID,
		SellerName:        in.SellerName,
		StoreName:         in.StoreName,
		Name:              strings.TrimSpace(in.Name),
		Category:          in.Category,
		Description:       in.Description,
		OriginalPrice:     in.OriginalPrice,
		CurrentPrice:      in.OriginalPrice,
		QuantityAvailable: in.QuantityAvailable,
		Status:            status,
		ExpiryDate:        in.ExpiryDate.UTC(),
	}
	if err := s.Store.Create(ctx, l); err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{"listing_id": l.ID, "seller_id": actor.UserID}).Info("listing created")
	return l, nil
}

func (s *Service) GetListing(ctx context.Context, id uint) (*model.Listing, error) {
	return s.Store.Get(ctx, id)
}

// Browse 公开浏览，默认只返回可售商品。
func (s *Service) Browse(ctx context.Context, f ListingFilter) ([]model.Listing, int64, error) {
	if f.Now.IsZero() {
		f.Now = s.Now().UTC()
	}
	return s.Store.List(ctx, f)
}

// UpdateListing 卖家编辑。允许手动覆盖现价（可高于衰减曲线），
// 下一次重估会按曲线重新计算。
func (s *Service) UpdateListing(ctx context.Context, actor access.Actor, id uint, patch ListingPatch) (*model.Listing, error) {
	if patch.Empty() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "nothing to update")
	}
	l, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Policy.CanEditListing(actor, l) {
		return nil, apperr.Forbidden("not allowed to edit this listing")
	}

	cols := patch.Apply(l)
	if err := validateListing(l); err != nil {
		return nil, err
	}
	if err := s.Store.Update(ctx, id, cols); err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{"listing_id": id, "seller_id": actor.UserID}).Info("listing updated")
	return l, nil
}

func validateListing(l *model.Listing) error {
	if strings.TrimSpace(l.Name) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "name is required")
	}
	if l.OriginalPrice < 0 || l.CurrentPrice < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "prices must be >= 0")
	}
	if l.QuantityAvailable < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "quantity_available must be >= 0")
	}
	if !l.Status.Valid() {
		return apperr.Validation(apperr.CodeInvalidValue, "invalid listing status")
	}
	if !l.ExpiryDate.After(l.CreatedAt) {
		return apperr.Validation(apperr.CodeInvalidInput, "expiry_date must be after created_at")
	}
	return nil
}

// DecayPreview 按当前时间计算的曲线价，用于展示“下一次重估后”的价格。
func (s *Service) DecayPreview(l *model.Listing, rate float64) int64 {
	return pricing.Price(l.OriginalPrice, l.CreatedAt, l.ExpiryDate, rate, s.Now())
}
