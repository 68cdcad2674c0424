package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"surplus_market/internal/access"
	"surplus_market/internal/apperr"
	"surplus_market/internal/catalog"
	"surplus_market/internal/config"
	"surplus_market/internal/httpx"
	"surplus_market/internal/logging"
	"surplus_market/internal/metrics"
	"surplus_market/internal/middleware"
	"surplus_market/internal/order"
	"surplus_market/internal/revaluation"
)

// Revaluer 手动触发重估的入口，由 revaluation.Job 实现。
type Revaluer interface {
	Run(ctx context.Context, now time.Time) (revaluation.Result, error)
}

// Deps 路由依赖。Redis 为空时跳过限流与幂等。
type Deps struct {
	Catalog     *catalog.Service
	Orders      *order.Service
	Revaluation Revaluer
	Redis       *rd.Client
	Config      config.AppConfig
	Log         logrus.FieldLogger
	Now         func() time.Time
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	r.Use(logging.GinMiddleware(d.Log))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	// 公开浏览
	api.GET("/listings", browseListings(d.Catalog))
	api.GET("/listings/:id", getListing(d.Catalog, d.Config.DecayRate))

	authed := api.Group("", middleware.Authenticate([]byte(d.Config.JWTSecret)))
	authed.POST("/listings", createListing(d.Catalog))
	authed.PATCH("/listings/:id", updateListing(d.Catalog))

	orders := authed.Group("/orders")
	if d.Redis != nil {
		orders.POST("", middleware.RedisRateLimit(d.Redis, "checkout", d.Config.OrderRateLimit, d.Config.OrderRateWindow),
			createOrder(d.Orders, d.Redis, d.Config.IdempotencyTTL))
	} else {
		orders.POST("", createOrder(d.Orders, nil, 0))
	}
	orders.GET("", listOrders(d.Orders))
	orders.GET("/stats", orderStats(d.Orders))
	orders.GET("/:code", getOrder(d.Orders))
	orders.PATCH("/:code/status", setOrderStatus(d.Orders))
	orders.PATCH("/:code/payment", setPaymentStatus(d.Orders))
	orders.POST("/:code/cancel", cancelOrder(d.Orders))

	authed.GET("/users/me/stats", userStats(d.Orders))
	authed.POST("/admin/revaluations", runRevaluation(d.Revaluation, d.Now))
}

// runRevaluation 管理员手动触发一次重估，同步返回统计。
func runRevaluation(job Revaluer, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := mustActor(c)
		if !(access.Policy{}).CanRunRevaluation(actor) {
			httpx.Fail(c, apperr.Forbidden("admin only"))
			return
		}
		if job == nil {
			httpx.Fail(c, apperr.StoreUnavailable("revaluation", nil))
			return
		}
		res, err := job.Run(c.Request.Context(), now())
		if err != nil {
			if errors.Is(err, revaluation.ErrRunInProgress) {
				httpx.Fail(c, apperr.InvalidTransition(apperr.CodeRunInProgress, "a revaluation run is already in progress"))
				return
			}
			httpx.Fail(c, err)
			return
		}
		logging.FromGin(c).WithFields(logrus.Fields{
			"actor_id": actor.UserID,
			"examined": res.Examined,
			"updated":  res.Updated,
		}).Info("manual revaluation finished")
		httpx.OK(c, res)
	}
}

// mustActor Authenticate 之后的路由一定有 Actor。
func mustActor(c *gin.Context) access.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		httpx.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		httpx.BadRequest(c, key+" must be an integer")
		return 0, false
	}
	return n, true
}

// queryTime 解析 RFC3339 时间参数，缺省返回 nil。
func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		httpx.BadRequest(c, key+" must be RFC3339")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
