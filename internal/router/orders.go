package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"surplus_market/internal/apperr"
	"surplus_market/internal/httpx"
	"surplus_market/internal/logging"
	"surplus_market/internal/model"
	"surplus_market/internal/order"
	rediskey "surplus_market/pkg/redis"
)

// createOrder 下单入口。
// 携带 Idempotency-Key 时：
// 1. 首次请求占位 pending，成功后记录订单号
// 2. 重复请求直接返回已创建的订单；仍在处理中返回 409
// 3. 下单失败释放占位，客户端可以用同一个键重试
func createOrder(svc *order.Service, rdb *rd.Client, idemTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.CreateOrderInput
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err.Error())
			return
		}
		ctx := c.Request.Context()
		actor := mustActor(c)
		log := logging.FromGin(c)

		idemKey := c.GetHeader("Idempotency-Key")
		claimed := false
		if idemKey != "" && rdb != nil {
			st, err := rediskey.ClaimCheckout(ctx, rdb, actor.UserID, idemKey, idemTTL)
			switch {
			case err != nil:
				// Redis 不可用时退化为无幂等保护
				log.WithError(err).Warn("idempotency claim failed, continuing without it")
			case st.OrderCode != "":
				o, err := svc.GetOrder(ctx, actor, st.OrderCode)
				if err != nil {
					httpx.Fail(c, err)
					return
				}
				c.Header("Idempotent-Replayed", "true")
				httpx.OK(c, o)
				return
			case st.InFlight:
				httpx.Fail(c, apperr.InvalidTransition(apperr.CodeRequestInFlight,
					"a request with this Idempotency-Key is still being processed"))
				return
			default:
				claimed = true
			}
		}

		o, err := svc.CreateOrder(ctx, actor, req)
		if err != nil {
			if claimed {
				if rerr := rediskey.ReleaseCheckout(context.WithoutCancel(ctx), rdb, actor.UserID, idemKey); rerr != nil {
					log.WithError(rerr).Warn("release idempotency key")
				}
			}
			httpx.Fail(c, err)
			return
		}
		if claimed {
			if err := rediskey.CompleteCheckout(context.WithoutCancel(ctx), rdb, actor.UserID, idemKey, o.OrderCode, idemTTL); err != nil {
				log.WithError(err).WithField("order_code", o.OrderCode).Warn("record idempotency key")
			}
		}
		httpx.Created(c, o)
	}
}

// listOrders 按角色可见范围分页查询。
func listOrders(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, ok := queryInt(c, "page")
		if !ok {
			return
		}
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		from, ok := queryTime(c, "from")
		if !ok {
			return
		}
		to, ok := queryTime(c, "to")
		if !ok {
			return
		}
		res, err := svc.ListOrders(c.Request.Context(), mustActor(c), order.ListFilter{
			Status:        model.OrderStatus(c.Query("status")),
			PaymentStatus: model.PaymentStatus(c.Query("payment_status")),
			From:          from,
			To:            to,
			Page:          page,
			Limit:         limit,
		})
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, res)
	}
}

func orderStats(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, ok := queryTime(c, "from")
		if !ok {
			return
		}
		to, ok := queryTime(c, "to")
		if !ok {
			return
		}
		sum, err := svc.StatsSummary(c.Request.Context(), mustActor(c), from, to)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, sum)
	}
}

func getOrder(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.GetOrder(c.Request.Context(), mustActor(c), c.Param("code"))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, o)
	}
}

func setOrderStatus(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err.Error())
			return
		}
		o, err := svc.SetOrderStatus(c.Request.Context(), mustActor(c), c.Param("code"), model.OrderStatus(req.Status))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, o)
	}
}

func setPaymentStatus(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PaymentStatus string `json:"payment_status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err.Error())
			return
		}
		o, err := svc.SetPaymentStatus(c.Request.Context(), mustActor(c), c.Param("code"), model.PaymentStatus(req.PaymentStatus))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, o)
	}
}

func cancelOrder(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.CancelOrder(c.Request.Context(), mustActor(c), c.Param("code"))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, o)
	}
}

func userStats(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.UserStats(c.Request.Context(), mustActor(c))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, st)
	}
}
