package track

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

func seedItem(t *testing.T, m *memStore, price int) *model.Item {
	t.Helper()
	it, created, err := m.UpsertItem(context.Background(), store.UpsertItemParams{
		ExternalID: "82495671234",
		Title:      "로지텍 MX KEYS S",
		ProductURL: "https://search.shopping.naver.com/catalog/82495671234",
		Price:      price,
	}, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, created)
	return it
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestReconcile_NewItemRecordsFirstObservation(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 50000)

	res, err := r.Reconcile(context.Background(), it, 50000, true)
	require.NoError(t, err)

	assert.True(t, res.HistoryRecorded)
	require.NotNil(t, res.Point)
	assert.Equal(t, 50000, res.Point.Price)

	// Price fields were seeded by the upsert.
	stored, err := m.GetItem(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, 50000, stored.InitialPrice)
	assert.Equal(t, 50000, *stored.LastSeenPrice)
	assert.Equal(t, 50000, *stored.MinPrice)
	assert.Len(t, m.points, 1)
}

func TestReconcile_UnchangedPriceTouchesOnly(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 50000)
	_, err := r.Reconcile(context.Background(), it, 50000, true)
	require.NoError(t, err)

	later := time.Now().UTC().Add(time.Hour)
	r.now = fixedClock(later)

	res, err := r.Reconcile(context.Background(), it, 50000, false)
	require.NoError(t, err)
	assert.False(t, res.HistoryRecorded)
	assert.Nil(t, res.Point)

	stored, err := m.GetItem(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Len(t, m.points, 1, "no second observation for an unchanged price")
	assert.Equal(t, 50000, *stored.MinPrice)
	assert.True(t, stored.LastCheckedAt.Equal(later))
}

func TestReconcile_UnchangedTwiceStaysIdempotent(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 50000)
	_, err := r.Reconcile(context.Background(), it, 50000, true)
	require.NoError(t, err)

	for range 2 {
		res, err := r.Reconcile(context.Background(), it, 50000, false)
		require.NoError(t, err)
		assert.False(t, res.HistoryRecorded)
	}
	assert.Len(t, m.points, 1)
}

func TestReconcile_DropSetsMinDirectly(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 50000)
	_, err := r.Reconcile(context.Background(), it, 50000, true)
	require.NoError(t, err)
	// Simulate a historical minimum below the current price.
	min := 45000
	require.NoError(t, m.UpdateItemPrice(context.Background(), it.ID, 50000, min, time.Now().UTC()))
	it.MinPrice = &min

	res, err := r.Reconcile(context.Background(), it, 40000, false)
	require.NoError(t, err)
	assert.True(t, res.HistoryRecorded)
	assert.Equal(t, 45000, *res.OldMin)
	assert.Equal(t, 50000, *res.OldLastSeen)

	stored, err := m.GetItem(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, 40000, *stored.MinPrice)
	assert.Equal(t, 40000, *stored.LastSeenPrice)
}

func TestReconcile_RecomputesWindowWhenMinAgedOut(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 50000)

	base := time.Now().UTC()

	// A 45000 observation nine days ago: the old floor, now out of window.
	r.now = fixedClock(base.Add(-9 * 24 * time.Hour))
	_, err := r.Reconcile(context.Background(), it, 45000, true)
	require.NoError(t, err)
	min := 45000
	seen := 45000
	it.MinPrice, it.LastSeenPrice = &min, &seen

	// A 52000 observation two days ago, inside the window.
	r.now = fixedClock(base.Add(-2 * 24 * time.Hour))
	_, err = r.Reconcile(context.Background(), it, 52000, false)
	require.NoError(t, err)

	// New observation above the stale floor forces the windowed recompute:
	// 45000 has aged out, so the minimum becomes min(52000, 48000).
	r.now = fixedClock(base)
	res, err := r.Reconcile(context.Background(), it, 48000, false)
	require.NoError(t, err)
	assert.True(t, res.HistoryRecorded)

	stored, err := m.GetItem(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, 48000, *stored.MinPrice)
}

func TestReconcile_MinNeverExceedsWindowMinimum(t *testing.T) {
	m := newMemStore()
	r := NewReconciler(m)
	it := seedItem(t, m, 60000)

	base := time.Now().UTC().Add(-6 * 24 * time.Hour)
	r.now = fixedClock(base)
	_, err := r.Reconcile(context.Background(), it, 60000, true)
	require.NoError(t, err)

	prices := []int{58000, 61000, 55000, 59000, 57000}
	for i, p := range prices {
		r.now = fixedClock(base.Add(time.Duration(i+1) * 24 * time.Hour))
		_, err := r.Reconcile(context.Background(), it, p, false)
		require.NoError(t, err)

		stored, err := m.GetItem(context.Background(), it.ID)
		require.NoError(t, err)
		trueMin, err := m.MinPriceSince(context.Background(), it.ID, r.now().Add(-minPriceWindow))
		require.NoError(t, err)
		require.NotNil(t, trueMin)
		assert.LessOrEqual(t, *stored.MinPrice, *trueMin)
	}
}
