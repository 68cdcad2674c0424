package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"surplus_market/internal/catalog"
	"surplus_market/internal/httpx"
	"surplus_market/internal/model"
)

// browseListings 公开浏览，默认只看可售商品；all=true 时包含已售罄/过期。
func browseListings(svc *catalog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, ok := queryInt(c, "page")
		if !ok {
			return
		}
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		list, total, err := svc.Browse(c.Request.Context(), catalog.ListingFilter{
			Category:   c.Query("category"),
			SellerID:   c.Query("seller_id"),
			ActiveOnly: c.Query("all") != "true",
			Page:       page,
			Limit:      limit,
		})
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		if list == nil {
			list = []model.Listing{}
		}
		httpx.OK(c, gin.H{"listings": list, "total": total})
	}
}

// getListing 返回商品详情与按当前时间计算的曲线价。
func getListing(svc *catalog.Service, rate float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		l, err := svc.GetListing(c.Request.Context(), id)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, gin.H{"listing": l, "decay_price": svc.DecayPreview(l, rate)})
	}
}

func createListing(svc *catalog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name              string    `json:"name" binding:"required"`
			Category          string    `json:"category"`
			Description       string    `json:"description"`
			SellerName        string    `json:"seller_name"`
			StoreName         string    `json:"store_name"`
			OriginalPrice     int64     `json:"original_price" binding:"required,min=1"`
			QuantityAvailable int       `json:"quantity_available" binding:"min=0"`
			ExpiryDate        time.Time `json:"expiry_date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err.Error())
			return
		}
		l, err := svc.CreateListing(c.Request.Context(), mustActor(c), catalog.CreateListingInput{
			Name:              req.Name,
			Category:          req.Category,
			Description:       req.Description,
			SellerName:        req.SellerName,
			StoreName:         req.StoreName,
			OriginalPrice:     req.OriginalPrice,
			QuantityAvailable: req.QuantityAvailable,
			ExpiryDate:        req.ExpiryDate,
		})
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.Created(c, l)
	}
}

// updateListing 卖家编辑，字段缺省表示不修改。
func updateListing(svc *catalog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req struct {
			Name              *string              `json:"name"`
			Category          *string              `json:"category"`
			Description       *string              `json:"description"`
			OriginalPrice     *int64               `json:"original_price"`
			CurrentPrice      *int64               `json:"current_price"`
			QuantityAvailable *int                 `json:"quantity_available"`
			Status            *model.ListingStatus `json:"status"`
			ExpiryDate        *time.Time           `json:"expiry_date"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err.Error())
			return
		}
		l, err := svc.UpdateListing(c.Request.Context(), mustActor(c), id, catalog.ListingPatch{
			Name:              req.Name,
			Category:          req.Category,
			Description:       req.Description,
			OriginalPrice:     req.OriginalPrice,
			CurrentPrice:      req.CurrentPrice,
			QuantityAvailable: req.QuantityAvailable,
			Status:            req.Status,
			ExpiryDate:        req.ExpiryDate,
		})
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, l)
	}
}
