package track

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

type searchCall struct {
	query    string
	category string
	display  int
	start    int
	sort     string
}

// fakeSource serves canned search pages and lookup prices in memory.
type fakeSource struct {
	pages     [][]map[string]any
	searchErr error
	calls     []searchCall

	prices    map[string]int
	lookupErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{prices: map[string]int{}, lookupErr: map[string]error{}}
}

func (f *fakeSource) Search(ctx context.Context, query, category string, display, start int, sort string) ([]map[string]any, error) {
	f.calls = append(f.calls, searchCall{query, category, display, start, sort})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[idx]
	if len(page) > display {
		page = page[:display]
	}
	return page, nil
}

func (f *fakeSource) LookupPrice(ctx context.Context, query, productURL, category string) (int, error) {
	if err := f.lookupErr[productURL]; err != nil {
		return 0, err
	}
	price, ok := f.prices[productURL]
	if !ok {
		return 0, eris.Errorf("no canned price for %s", productURL)
	}
	return price, nil
}

func rawRecord(catalogID string, price int) map[string]any {
	return map[string]any{
		"title":    "<b>무선 청소기</b> " + catalogID,
		"link":     "https://search.shopping.naver.com/catalog/" + catalogID,
		"image":    "https://shopping-phinf.pstatic.net/" + catalogID + ".jpg",
		"lprice":   fmt.Sprintf("%d", price),
		"mallName": "네이버",
	}
}

func TestCollect_PagesUntilTotal(t *testing.T) {
	src := newFakeSource()
	src.pages = [][]map[string]any{
		{rawRecord("1001", 50000), rawRecord("1002", 61000)},
		{rawRecord("1003", 72000), rawRecord("1004", 83000)},
		{rawRecord("1005", 94000)},
	}
	m := newMemStore()
	svc := NewService(m, src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 5, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Len(t, src.calls, 3)
	assert.Equal(t, 1, src.calls[0].start)
	assert.Equal(t, 3, src.calls[1].start)
	assert.Equal(t, 5, src.calls[2].start)
	assert.Equal(t, 2, src.calls[0].display)
	assert.Equal(t, 1, src.calls[2].display, "last page only asks for the remainder")

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

func TestCollect_StopsOnEmptyPage(t *testing.T) {
	src := newFakeSource()
	src.pages = [][]map[string]any{
		{rawRecord("1001", 50000)},
		{},
	}
	svc := NewService(newMemStore(), src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 10, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, src.calls, 2, "stops after the first empty page")
}

func TestCollect_ZeroTotalIsNoop(t *testing.T) {
	src := newFakeSource()
	svc := NewService(newMemStore(), src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 0, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, src.calls)
}

func TestCollect_RejectsBadPageSize(t *testing.T) {
	svc := NewService(newMemStore(), newFakeSource(), "")

	for _, size := range []int{0, -1, 101} {
		_, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 5, PageSize: size})
		assert.ErrorIs(t, err, model.ErrValidation, "page size %d", size)
	}
}

func TestCollect_SkipsMalformedRecords(t *testing.T) {
	src := newFakeSource()
	bad := rawRecord("1002", 61000)
	bad["lprice"] = "free!"
	src.pages = [][]map[string]any{
		{rawRecord("1001", 50000), bad, rawRecord("1003", 72000)},
	}
	m := newMemStore()
	svc := NewService(m, src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 3, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "malformed record is skipped, not counted")

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCollect_StrictAbortsOnMalformedRecord(t *testing.T) {
	src := newFakeSource()
	bad := rawRecord("1002", 61000)
	delete(bad, "title")
	src.pages = [][]map[string]any{
		{rawRecord("1001", 50000), bad, rawRecord("1003", 72000)},
	}
	svc := NewService(newMemStore(), src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 3, PageSize: 3, Strict: true})
	require.Error(t, err)
	assert.Equal(t, 1, n, "work before the bad record is preserved")
}

func TestCollect_SourceErrorPreservesProgress(t *testing.T) {
	src := newFakeSource()
	src.pages = [][]map[string]any{
		{rawRecord("1001", 50000), rawRecord("1002", 61000)},
	}
	m := newMemStore()
	svc := NewService(m, src, "")

	n, err := svc.Collect(context.Background(), CollectParams{Query: "청소기", Total: 4, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	src2 := newFakeSource()
	src2.searchErr = eris.New("search unavailable")
	svc2 := NewService(m, src2, "")
	n, err = svc2.Collect(context.Background(), CollectParams{Query: "청소기", Total: 4, PageSize: 2})
	require.Error(t, err)
	assert.Zero(t, n)

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2, "earlier run's work survives")
}

func TestCollect_SecondRunUpdatesExistingItems(t *testing.T) {
	m := newMemStore()

	src := newFakeSource()
	src.pages = [][]map[string]any{{rawRecord("1001", 50000)}}
	_, err := NewService(m, src, "").Collect(context.Background(), CollectParams{Query: "청소기", Total: 1, PageSize: 10})
	require.NoError(t, err)

	src2 := newFakeSource()
	src2.pages = [][]map[string]any{{rawRecord("1001", 47000)}}
	_, err = NewService(m, src2, "").Collect(context.Background(), CollectParams{Query: "청소기", Total: 1, PageSize: 10})
	require.NoError(t, err)

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, items, 1, "same catalog id upserts, never duplicates")

	it := items[0]
	assert.Equal(t, 50000, it.InitialPrice, "initial price is fixed at creation")
	require.NotNil(t, it.LastSeenPrice)
	assert.Equal(t, 47000, *it.LastSeenPrice)
	require.NotNil(t, it.MinPrice)
	assert.Equal(t, 47000, *it.MinPrice)

	points, err := m.ListPricePoints(context.Background(), it.ID, 10)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestCollect_NoAlertsOnItemCreation(t *testing.T) {
	m := newMemStore()

	src := newFakeSource()
	src.pages = [][]map[string]any{{rawRecord("1001", 10000)}}
	_, err := NewService(m, src, "").Collect(context.Background(), CollectParams{Query: "청소기", Total: 1, PageSize: 10})
	require.NoError(t, err)

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// The rule would trivially match the creation price; creation still
	// must not evaluate anything.
	w, err := m.CreateWatch(context.Background(), "user-1", items[0].ID)
	require.NoError(t, err)
	rule, err := model.NewAlertRule(w.ID, model.AlertTargetPrice, intPtr(999999))
	require.NoError(t, err)
	created, err := m.CreateAlert(context.Background(), rule)
	require.NoError(t, err)

	assert.Nil(t, m.alerts[created.ID].LastTriggeredPointID)
}

func TestCollect_FiresAlertsOnWatchedDrop(t *testing.T) {
	m := newMemStore()

	src := newFakeSource()
	src.pages = [][]map[string]any{{rawRecord("1001", 150000)}}
	_, err := NewService(m, src, "").Collect(context.Background(), CollectParams{Query: "청소기", Total: 1, PageSize: 10})
	require.NoError(t, err)

	items, err := m.ListItems(context.Background(), 100, 0)
	require.NoError(t, err)
	w, err := m.CreateWatch(context.Background(), "user-1", items[0].ID)
	require.NoError(t, err)
	rule, err := model.NewAlertRule(w.ID, model.AlertTargetPrice, intPtr(120000))
	require.NoError(t, err)
	created, err := m.CreateAlert(context.Background(), rule)
	require.NoError(t, err)

	src2 := newFakeSource()
	src2.pages = [][]map[string]any{{rawRecord("1001", 118000)}}
	_, err = NewService(m, src2, "").Collect(context.Background(), CollectParams{Query: "청소기", Total: 1, PageSize: 10})
	require.NoError(t, err)

	stored := m.alerts[created.ID]
	require.NotNil(t, stored.LastTriggeredPointID)
	assert.NotNil(t, stored.LastTriggeredAt)
}

func seedWatchedItem(t *testing.T, m *memStore, catalogID string, price int) *model.Item {
	t.Helper()
	it, created, err := m.UpsertItem(context.Background(), store.UpsertItemParams{
		ExternalID: catalogID,
		Title:      "상품 " + catalogID,
		ProductURL: "https://search.shopping.naver.com/catalog/" + catalogID,
		Price:      price,
	}, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, created)
	_, err = m.InsertPricePoint(context.Background(), it.ID, price, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	_, err = m.CreateWatch(context.Background(), "user-1", it.ID)
	require.NoError(t, err)
	return it
}

func TestRefresh_SkipsFailingItems(t *testing.T) {
	m := newMemStore()
	failing := seedWatchedItem(t, m, "1001", 50000)
	healthy := seedWatchedItem(t, m, "1002", 60000)

	src := newFakeSource()
	src.lookupErr[failing.ProductURL] = eris.New("lookup failed")
	src.prices[healthy.ProductURL] = 58000

	svc := NewService(m, src, "")
	updated, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated, "failing item is skipped, not fatal")

	got, err := m.GetItem(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeenPrice)
	assert.Equal(t, 58000, *got.LastSeenPrice)

	stale, err := m.GetItem(context.Background(), failing.ID)
	require.NoError(t, err)
	require.NotNil(t, stale.LastSeenPrice)
	assert.Equal(t, 50000, *stale.LastSeenPrice, "failed item keeps its previous state")
}

func TestRefresh_OnlyWatchedActiveItems(t *testing.T) {
	m := newMemStore()
	watched := seedWatchedItem(t, m, "1001", 50000)

	// Active but unwatched: refresh must not query it.
	_, _, err := m.UpsertItem(context.Background(), store.UpsertItemParams{
		ExternalID: "1002",
		Title:      "상품 1002",
		ProductURL: "https://search.shopping.naver.com/catalog/1002",
		Price:      70000,
	}, time.Now().UTC())
	require.NoError(t, err)

	src := newFakeSource()
	src.prices[watched.ProductURL] = 50000

	updated, err := NewService(m, src, "").Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
}

func TestRefresh_UnchangedPriceStillCountsAsUpdated(t *testing.T) {
	m := newMemStore()
	it := seedWatchedItem(t, m, "1001", 50000)

	src := newFakeSource()
	src.prices[it.ProductURL] = 50000

	updated, err := NewService(m, src, "").Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	points, err := m.ListPricePoints(context.Background(), it.ID, 10)
	require.NoError(t, err)
	assert.Len(t, points, 1, "unchanged price records no new observation")
}

func TestRefresh_FiresAlerts(t *testing.T) {
	m := newMemStore()
	it := seedWatchedItem(t, m, "1001", 50000)

	watches, err := m.ActiveWatchesForItem(context.Background(), it.ID)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	rule, err := model.NewAlertRule(watches[0].ID, model.AlertDropFromPrevious, nil)
	require.NoError(t, err)
	created, err := m.CreateAlert(context.Background(), rule)
	require.NoError(t, err)

	src := newFakeSource()
	src.prices[it.ProductURL] = 47000

	updated, err := NewService(m, src, "").Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	stored := m.alerts[created.ID]
	require.NotNil(t, stored.LastTriggeredPointID)
}

func TestAddWatch_UnknownItem(t *testing.T) {
	svc := NewService(newMemStore(), newFakeSource(), "")

	_, err := svc.AddWatch(context.Background(), "user-1", "item-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddWatch_ReactivatesSoftRemovedEntry(t *testing.T) {
	m := newMemStore()
	it := seedItem(t, m, 50000)
	svc := NewService(m, newFakeSource(), "")

	w1, err := svc.AddWatch(context.Background(), "user-1", it.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveWatch(context.Background(), "user-1", it.ID, false))

	w2, err := svc.AddWatch(context.Background(), "user-1", it.ID)
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID, "soft-removed entry is reactivated, not duplicated")
	assert.True(t, w2.IsActive)
}

func TestListWatches_RejectsBadPaging(t *testing.T) {
	svc := NewService(newMemStore(), newFakeSource(), "")

	_, _, err := svc.ListWatches(context.Background(), "user-1", store.WatchPage{Display: 101})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = svc.ListWatches(context.Background(), "user-1", store.WatchPage{Start: 1001})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = svc.ListWatches(context.Background(), "user-1", store.WatchPage{Sort: "price"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateAlert_UnknownWatch(t *testing.T) {
	svc := NewService(newMemStore(), newFakeSource(), "")

	_, err := svc.CreateAlert(context.Background(), "watch-missing", model.AlertNewLow, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAlert_ValidatesKind(t *testing.T) {
	m := newMemStore()
	it := seedItem(t, m, 50000)
	w, err := m.CreateWatch(context.Background(), "user-1", it.ID)
	require.NoError(t, err)
	svc := NewService(m, newFakeSource(), "")

	_, err = svc.CreateAlert(context.Background(), w.ID, model.AlertTargetPrice, nil)
	assert.ErrorIs(t, err, model.ErrValidation, "target_price requires a target")

	_, err = svc.CreateAlert(context.Background(), w.ID, model.AlertNewLow, intPtr(10000))
	assert.ErrorIs(t, err, model.ErrValidation, "new_low forbids a target")
}

func TestPriceHistory_UnknownItem(t *testing.T) {
	svc := NewService(newMemStore(), newFakeSource(), "")

	_, err := svc.PriceHistory(context.Background(), "item-missing", 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
