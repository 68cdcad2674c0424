package revaluation

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surplus_market/internal/apperr"
	"surplus_market/internal/catalog"
	"surplus_market/internal/database/dbtest"
	"surplus_market/internal/model"
	"surplus_market/internal/queue"
	rediskey "surplus_market/pkg/redis"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seedListing(t *testing.T, s *catalog.Store, original int64, lifespan time.Duration) *model.Listing {
	t.Helper()
	l := &model.Listing{
		CreatedAt:         t0,
		SellerID:          "seller-1",
		Name:              "Bananas 1kg",
		OriginalPrice:     original,
		CurrentPrice:      original,
		QuantityAvailable: 10,
		Status:            model.ListingActive,
		ExpiryDate:        t0.Add(lifespan),
	}
	require.NoError(t, s.Create(context.Background(), l))
	return l
}

func TestRun_RepricesAndIsIdempotent(t *testing.T) {
	store := catalog.NewStore(dbtest.Open(t))
	ctx := context.Background()
	a := seedListing(t, store, 10000, 10*24*time.Hour)
	b := seedListing(t, store, 500, 20*24*time.Hour)

	job := NewJob(store, 0.5, quietLogger())
	now := t0.Add(5 * 24 * time.Hour)

	res, err := job.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Examined)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.Failed)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7788), got.CurrentPrice)
	assert.Equal(t, 22, got.DiscountPercentage)

	got, err = store.Get(ctx, b.ID)
	require.NoError(t, err)
	// 500 * e^-0.125 = 441.25
	assert.Equal(t, int64(441), got.CurrentPrice)

	res, err = job.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Examined)
	assert.Zero(t, res.Updated, "second run with the same now must not change anything")
}

func TestRun_NoChangeAtCreationInstant(t *testing.T) {
	store := catalog.NewStore(dbtest.Open(t))
	seedListing(t, store, 10000, 24*time.Hour)

	res, err := NewJob(store, 0.5, quietLogger()).Run(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Zero(t, res.Updated)
}

func TestRun_MarksExpired(t *testing.T) {
	store := catalog.NewStore(dbtest.Open(t))
	ctx := context.Background()
	short := seedListing(t, store, 1000, time.Hour)
	seedListing(t, store, 1000, 48*time.Hour)

	res, err := NewJob(store, 0.5, quietLogger()).Run(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, int64(1), res.Expired)

	got, _ := store.Get(ctx, short.ID)
	assert.Equal(t, model.ListingExpired, got.Status)
}

// flakyStore 指定 id 写入失败，其余委托给内存实现。
type flakyStore struct {
	mu       sync.Mutex
	listings []model.Listing
	failIDs  map[uint]bool
	listErr  error
	updated  map[uint]int64
}

func (f *flakyStore) ListActive(context.Context, time.Time) ([]model.Listing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Listing(nil), f.listings...), nil
}

func (f *flakyStore) UpdatePrice(_ context.Context, id uint, p int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[id] {
		return apperr.StoreUnavailable("update price", errors.New("disk full"))
	}
	if f.updated == nil {
		f.updated = map[uint]int64{}
	}
	f.updated[id] = p
	return nil
}

func (f *flakyStore) MarkExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func TestRun_ContinuesPastSingleFailure(t *testing.T) {
	mk := func(id uint) model.Listing {
		return model.Listing{ID: id, CreatedAt: t0, ExpiryDate: t0.Add(10 * 24 * time.Hour),
			OriginalPrice: 10000, CurrentPrice: 10000, Status: model.ListingActive, QuantityAvailable: 1}
	}
	fs := &flakyStore{listings: []model.Listing{mk(1), mk(2), mk(3)}, failIDs: map[uint]bool{2: true}}

	res, err := NewJob(fs, 0.5, quietLogger()).Run(context.Background(), t0.Add(5*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Result{Examined: 3, Updated: 2, Failed: 1}, res)
	assert.Equal(t, map[uint]int64{1: 7788, 3: 7788}, fs.updated)
}

func TestRun_AbortsWhenStoreUnavailable(t *testing.T) {
	fs := &flakyStore{listErr: apperr.StoreUnavailable("list active listings", errors.New("connection refused"))}

	res, err := NewJob(fs, 0.5, quietLogger()).Run(context.Background(), t0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
	assert.Equal(t, Result{}, res)
}

type recordingSink struct{ events []queue.Event }

func (r *recordingSink) Append(_ context.Context, ev queue.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestRun_EmitsRepricedEvents(t *testing.T) {
	store := catalog.NewStore(dbtest.Open(t))
	l := seedListing(t, store, 10000, 10*24*time.Hour)

	sink := &recordingSink{}
	job := NewJob(store, 0.5, quietLogger())
	job.Events = sink

	_, err := job.Run(context.Background(), t0.Add(5*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, queue.EventListingRepriced, sink.events[0].EventType)
	assert.Contains(t, string(sink.events[0].Payload), `"new_price":7788`)
	assert.Equal(t, "1", sink.events[0].CorrelationID)
	assert.Equal(t, uint(1), l.ID)
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := catalog.NewStore(dbtest.Open(t))
	seedListing(t, store, 10000, 10*24*time.Hour)

	lock := rediskey.NewLock(rdb, rediskey.RevaluationLockKey(), time.Minute)
	job := NewJob(store, 0.5, quietLogger())
	job.Locker = lock

	held, err := lock.Acquire(context.Background(), "other-instance")
	require.NoError(t, err)
	require.True(t, held)

	_, err = job.Run(context.Background(), t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, lock.Release(context.Background(), "other-instance"))
	res, err := job.Run(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.False(t, mr.Exists(rediskey.RevaluationLockKey()), "lock released after run")
}

func TestScheduler_NextRunInTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	s, err := NewScheduler(NewJob(&flakyStore{}, 0.5, quietLogger()), "0 0 * * *", loc, quietLogger())
	require.NoError(t, err)

	after := time.Date(2026, 4, 1, 12, 0, 0, 0, loc)
	next := s.Next(after)
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, loc), next.In(loc))
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(NewJob(&flakyStore{}, 0.5, quietLogger()), "every day", time.UTC, quietLogger())
	assert.Error(t, err)
}

func TestScheduler_RunNowUsesClock(t *testing.T) {
	fs := &flakyStore{listings: []model.Listing{{ID: 7, CreatedAt: t0, ExpiryDate: t0.Add(10 * 24 * time.Hour),
		OriginalPrice: 10000, CurrentPrice: 10000, Status: model.ListingActive, QuantityAvailable: 1}}}
	s, err := NewScheduler(NewJob(fs, 0.5, quietLogger()), "@daily", time.UTC, quietLogger())
	require.NoError(t, err)
	s.clock = func() time.Time { return t0.Add(5 * 24 * time.Hour) }

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, int64(7788), fs.updated[7])
}
