package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surplus_market/internal/access"
	"surplus_market/internal/catalog"
	"surplus_market/internal/config"
	"surplus_market/internal/database/dbtest"
	"surplus_market/internal/middleware"
	"surplus_market/internal/order"
	"surplus_market/internal/revaluation"
)

const testSecret = "router-test-secret"

var (
	clock  = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	buyer  = access.Actor{UserID: "buyer-1", Role: access.RoleBuyer}
	seller = access.Actor{UserID: "seller-1", Role: access.RoleSeller}
	rival  = access.Actor{UserID: "seller-2", Role: access.RoleSeller}
	admin  = access.Actor{UserID: "admin-1", Role: access.RoleAdmin}
)

type envelope struct {
	Code int             `json:"code"`
	Err  string          `json:"err"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	engine *gin.Engine
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	log := logrus.New()
	log.SetOutput(io.Discard)
	db := dbtest.Open(t)
	now := func() time.Time { return clock }

	catSvc := catalog.NewService(catalog.NewStore(db), log)
	catSvc.Now = now
	ordSvc := order.NewService(order.NewStore(db), nil, log)
	ordSvc.Now = now
	job := revaluation.NewJob(catalog.NewStore(db), 0.5, log)

	r := gin.New()
	Setup(r, Deps{
		Catalog:     catSvc,
		Orders:      ordSvc,
		Revaluation: job,
		Redis:       rdb,
		Config: config.AppConfig{
			JWTSecret:       testSecret,
			DecayRate:       0.5,
			OrderRateLimit:  100,
			OrderRateWindow: time.Minute,
			IdempotencyTTL:  time.Hour,
		},
		Log: log,
		Now: now,
	})
	return &harness{t: t, engine: r, mr: mr}
}

func (h *harness) do(actor *access.Actor, method, path string, body any, headers ...string) (int, envelope, http.Header) {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		tok, err := middleware.IssueToken([]byte(testSecret), *actor, jwt.RegisteredClaims{})
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env, w.Header()
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type listingDTO struct {
	ID                 uint   `json:"id"`
	CurrentPrice       int64  `json:"current_price"`
	QuantityAvailable  int    `json:"quantity_available"`
	DiscountPercentage int    `json:"discount_percentage"`
	Status             string `json:"status"`
}

type orderDTO struct {
	OrderCode   string `json:"order_code"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
	EcoImpact   struct {
		ItemsSaved int     `json:"items_saved"`
		CO2SavedKg float64 `json:"co2_saved_kg"`
	} `json:"eco_impact"`
}

func (h *harness) createListing(price int64, qty int) listingDTO {
	h.t.Helper()
	code, env, _ := h.do(&seller, http.MethodPost, "/api/listings", map[string]any{
		"name":               "Strawberries 500g",
		"category":           "produce",
		"original_price":     price,
		"quantity_available": qty,
		"expiry_date":        clock.Add(4 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(h.t, http.StatusCreated, code, env.Msg)
	return decode[listingDTO](h.t, env.Data)
}

func TestPingAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.do(nil, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "surplus_market_")
}

func TestListings_Endpoints(t *testing.T) {
	h := newHarness(t)

	code, env, _ := h.do(nil, http.MethodPost, "/api/listings", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", env.Err)

	code, env, _ = h.do(&buyer, http.MethodPost, "/api/listings", map[string]any{
		"name": "x", "original_price": 100, "expiry_date": clock.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Err)

	l := h.createListing(10000, 5)
	assert.Equal(t, int64(10000), l.CurrentPrice)

	code, env, _ = h.do(nil, http.MethodGet, "/api/listings?category=produce", nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[struct {
		Listings []listingDTO `json:"listings"`
		Total    int64        `json:"total"`
	}](t, env.Data)
	assert.Equal(t, int64(1), page.Total)

	code, env, _ = h.do(nil, http.MethodGet, "/api/listings/1", nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[struct {
		DecayPrice int64 `json:"decay_price"`
	}](t, env.Data)
	assert.Equal(t, int64(10000), detail.DecayPrice, "no decay at creation")

	code, _, _ = h.do(nil, http.MethodGet, "/api/listings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = h.do(nil, http.MethodGet, "/api/listings/99", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env, _ = h.do(&rival, http.MethodPatch, "/api/listings/1", map[string]any{"current_price": 5000})
	assert.Equal(t, http.StatusForbidden, code)

	code, env, _ = h.do(&seller, http.MethodPatch, "/api/listings/1", map[string]any{"current_price": 5000})
	require.Equal(t, http.StatusOK, code, env.Msg)
	updated := decode[listingDTO](t, env.Data)
	assert.Equal(t, int64(5000), updated.CurrentPrice)
	assert.Equal(t, 50, updated.DiscountPercentage)
}

func TestOrders_CheckoutIdempotent(t *testing.T) {
	h := newHarness(t)
	l := h.createListing(6000, 10)
	body := map[string]any{"items": []map[string]any{{"listing_id": l.ID, "quantity": 2}}}

	code, env, _ := h.do(&buyer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, code, env.Msg)
	first := decode[orderDTO](t, env.Data)
	assert.Equal(t, int64(12000), first.TotalAmount)
	assert.Equal(t, 2, first.EcoImpact.ItemsSaved)
	assert.InDelta(t, 0.4, first.EcoImpact.CO2SavedKg, 1e-9)

	code, env, hdr := h.do(&buyer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "true", hdr.Get("Idempotent-Replayed"))
	assert.Equal(t, first.OrderCode, decode[orderDTO](t, env.Data).OrderCode)

	_, env, _ = h.do(nil, http.MethodGet, "/api/listings/1", nil)
	detail := decode[struct {
		Listing listingDTO `json:"listing"`
	}](t, env.Data)
	assert.Equal(t, 8, detail.Listing.QuantityAvailable, "stock decremented once")

	// 失败的请求释放幂等键，同一个键可以重试
	code, env, _ = h.do(&buyer, http.MethodPost, "/api/orders",
		map[string]any{"items": []map[string]any{{"listing_id": l.ID, "quantity": 50}}}, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Err)
	code, _, _ = h.do(&buyer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusCreated, code)
}

func TestOrders_InFlightKey(t *testing.T) {
	h := newHarness(t)
	l := h.createListing(6000, 10)
	require.NoError(t, h.mr.Set("surplus:idem:checkout:buyer-1:k-busy", "pending"))

	code, env, _ := h.do(&buyer, http.MethodPost, "/api/orders",
		map[string]any{"items": []map[string]any{{"listing_id": l.ID, "quantity": 1}}}, "Idempotency-Key", "k-busy")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "REQUEST_IN_FLIGHT", env.Err)
}

func TestOrders_Lifecycle(t *testing.T) {
	h := newHarness(t)
	l := h.createListing(6000, 10)

	code, env, _ := h.do(&buyer, http.MethodPost, "/api/orders", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "EMPTY_ORDER", env.Err)

	code, env, _ = h.do(&buyer, http.MethodPost, "/api/orders",
		map[string]any{"items": []map[string]any{{"listing_id": l.ID, "quantity": 1}}})
	require.Equal(t, http.StatusCreated, code)
	o := decode[orderDTO](t, env.Data)
	path := "/api/orders/" + o.OrderCode

	code, _, _ = h.do(&rival, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code, "uninvolved seller")
	code, _, _ = h.do(&seller, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env, _ = h.do(&buyer, http.MethodPatch, path+"/status", map[string]any{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env, _ = h.do(&seller, http.MethodPatch, path+"/status", map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_VALUE", env.Err)

	code, env, _ = h.do(&seller, http.MethodPatch, path+"/status", map[string]any{"status": "confirmed"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	assert.Equal(t, "confirmed", decode[orderDTO](t, env.Data).Status)

	code, env, _ = h.do(&buyer, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_CANCELLABLE", env.Err)

	code, env, _ = h.do(&seller, http.MethodPatch, path+"/status", map[string]any{"status": "delivered"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", env.Err)

	code, env, _ = h.do(&seller, http.MethodPatch, path+"/payment", map[string]any{"payment_status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_VALUE", env.Err)

	code, _, _ = h.do(&seller, http.MethodPatch, path+"/payment", map[string]any{"payment_status": "paid"})
	assert.Equal(t, http.StatusOK, code)
}

func TestOrders_ListStatsAndUserStats(t *testing.T) {
	h := newHarness(t)
	l := h.createListing(1000, 20)
	for i := 0; i < 3; i++ {
		code, _, _ := h.do(&buyer, http.MethodPost, "/api/orders",
			map[string]any{"items": []map[string]any{{"listing_id": l.ID, "quantity": 1}}})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env, _ := h.do(&buyer, http.MethodGet, "/api/orders?limit=2&page=1", nil)
	require.Equal(t, http.StatusOK, code)
	res := decode[order.ListResult](t, env.Data)
	assert.Len(t, res.Orders, 2)
	assert.Equal(t, order.Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, res.Pagination)

	code, env, _ = h.do(&rival, http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[order.ListResult](t, env.Data).Orders)

	code, _, _ = h.do(&buyer, http.MethodGet, "/api/orders?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env, _ = h.do(&seller, http.MethodGet, "/api/orders/stats", nil)
	require.Equal(t, http.StatusOK, code)
	sum := decode[order.Summary](t, env.Data)
	assert.Equal(t, int64(3), sum.TotalOrders)
	assert.Equal(t, int64(3000), sum.TotalRevenue)
	assert.Equal(t, int64(3), sum.StatusCounts["pending"])

	code, env, _ = h.do(&buyer, http.MethodGet, "/api/users/me/stats", nil)
	require.Equal(t, http.StatusOK, code)
	st := decode[struct {
		TotalOrders int64   `json:"total_orders"`
		TotalSpent  int64   `json:"total_spent"`
		WaterSaved  float64 `json:"water_saved_liters"`
	}](t, env.Data)
	assert.Equal(t, int64(3), st.TotalOrders)
	assert.Equal(t, int64(3000), st.TotalSpent)
	assert.InDelta(t, 120, st.WaterSaved, 1e-9)
}

func TestAdminRevaluation(t *testing.T) {
	h := newHarness(t)
	h.createListing(10000, 3)

	code, _, _ := h.do(&seller, http.MethodPost, "/api/admin/revaluations", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env, _ := h.do(&admin, http.MethodPost, "/api/admin/revaluations", nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	res := decode[revaluation.Result](t, env.Data)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, 0, res.Updated, "listing created at the same instant")
}
