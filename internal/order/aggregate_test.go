package order

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surplus_market/internal/apperr"
	"surplus_market/internal/model"
)

var now = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func TestNewOrderCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^ORD-\d+-[0-9A-Z]{9}$`)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		code := NewOrderCode(now)
		require.Regexp(t, re, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Contains(t, NewOrderCode(now), "ORD-1778405400000-")
}

func TestBuild_TotalsAndEcoImpact(t *testing.T) {
	o, err := Build("buyer-1", []model.OrderItem{
		{ListingID: 1, Name: "Bread", Quantity: 2, UnitPrice: 6000, SellerID: "s1"},
		{ListingID: 2, Name: "Cheese", Quantity: 1, UnitPrice: 9000, SellerID: "s2"},
	}, Details{DeliveryAddress: "12 High St"}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(21000), o.TotalAmount)
	assert.Equal(t, int64(12000), o.Items[0].TotalPrice)
	assert.Equal(t, int64(9000), o.Items[1].TotalPrice)
	assert.Equal(t, 3, o.EcoImpact.ItemsSaved)
	assert.Equal(t, 0.6, o.EcoImpact.CO2SavedKg)
	assert.Equal(t, 120.0, o.EcoImpact.WaterSavedLiters)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "12 High St", o.DeliveryAddress)
	assert.NoError(t, VerifyTotals(o))
}

func TestBuild_Rejects(t *testing.T) {
	_, err := Build("b", nil, Details{}, now)
	assert.True(t, apperr.HasCode(err, apperr.CodeEmptyOrder))

	_, err = Build("b", []model.OrderItem{{ListingID: 1, Quantity: 0, UnitPrice: 10}}, Details{}, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = Build("b", []model.OrderItem{{ListingID: 1, Quantity: 1, UnitPrice: -1}}, Details{}, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestVerifyTotals_DetectsMismatch(t *testing.T) {
	o := &model.Order{
		TotalAmount: 100,
		Items:       []model.OrderItem{{Quantity: 2, UnitPrice: 40, TotalPrice: 80}},
	}
	assert.Error(t, VerifyTotals(o))

	o.Items[0].TotalPrice = 100
	o.Items[0].UnitPrice = 40
	assert.Error(t, VerifyTotals(o), "line total must equal quantity x unit price")
}

func TestComputeEcoImpact(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7, 1000} {
		eco := ComputeEcoImpact([]model.OrderItem{{Quantity: n}})
		assert.Equal(t, n, eco.ItemsSaved)
		assert.InDelta(t, 0.2*float64(n), eco.CO2SavedKg, 1e-9)
		assert.InDelta(t, 40*float64(n), eco.WaterSavedLiters, 1e-9)
	}
}

func TestTransition_HappyPath(t *testing.T) {
	o := &model.Order{Status: model.OrderPending}
	for _, to := range []model.OrderStatus{model.OrderConfirmed, model.OrderPreparing, model.OrderReady} {
		require.NoError(t, Transition(o, to, now))
		assert.Nil(t, o.ActualDelivery)
	}
	require.NoError(t, Transition(o, model.OrderDelivered, now))
	require.NotNil(t, o.ActualDelivery)
	assert.True(t, o.ActualDelivery.Equal(now))

	err := Transition(o, model.OrderCancelled, now.Add(time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.True(t, o.ActualDelivery.Equal(now))
}

func TestTransition_Rejects(t *testing.T) {
	cases := []struct {
		from, to model.OrderStatus
	}{
		{model.OrderPending, model.OrderDelivered},
		{model.OrderPending, model.OrderPending},
		{model.OrderConfirmed, model.OrderPending},
		{model.OrderConfirmed, model.OrderCancelled},
		{model.OrderCancelled, model.OrderConfirmed},
		{model.OrderDelivered, model.OrderReady},
	}
	for _, c := range cases {
		o := &model.Order{Status: c.from}
		err := Transition(o, c.to, now)
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "%s -> %s", c.from, c.to)
		assert.Equal(t, c.from, o.Status)
	}

	o := &model.Order{Status: model.OrderPending}
	assert.True(t, apperr.Is(Transition(o, "shipped", now), apperr.KindValidation))
}

func TestCancel_OnlyFromPending(t *testing.T) {
	o := &model.Order{Status: model.OrderPending}
	require.NoError(t, Cancel(o))
	assert.Equal(t, model.OrderCancelled, o.Status)

	for _, st := range []model.OrderStatus{
		model.OrderConfirmed, model.OrderPreparing, model.OrderReady, model.OrderDelivered, model.OrderCancelled,
	} {
		o := &model.Order{Status: st}
		err := Cancel(o)
		assert.True(t, apperr.HasCode(err, apperr.CodeNotCancellable), string(st))
		assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
		assert.Equal(t, st, o.Status)
	}
}

func TestSetPayment_Unconstrained(t *testing.T) {
	all := []model.PaymentStatus{model.PaymentPending, model.PaymentPaid, model.PaymentFailed, model.PaymentRefunded}
	for _, from := range all {
		for _, to := range all {
			o := &model.Order{PaymentStatus: from}
			require.NoError(t, SetPayment(o, to))
			assert.Equal(t, to, o.PaymentStatus)
		}
	}
	o := &model.Order{PaymentStatus: model.PaymentPaid}
	assert.True(t, apperr.HasCode(SetPayment(o, "bounced"), apperr.CodeInvalidValue))
	assert.Equal(t, model.PaymentPaid, o.PaymentStatus)
}
