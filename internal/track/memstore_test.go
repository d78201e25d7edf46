package track

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	seq     int
	items   map[string]*model.Item
	points  []*model.PricePoint
	watches map[string]*model.WatchEntry
	alerts  map[string]*model.AlertRule
}

func newMemStore() *memStore {
	return &memStore{
		items:   map[string]*model.Item{},
		watches: map[string]*model.WatchEntry{},
		alerts:  map[string]*model.AlertRule{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) UpsertItem(ctx context.Context, p store.UpsertItemParams, now time.Time) (*model.Item, bool, error) {
	for _, it := range m.items {
		if it.ExternalID == p.ExternalID {
			it.Title = p.Title
			it.ProductURL = p.ProductURL
			it.ImageURL = p.ImageURL
			it.MallName = p.MallName
			cp := *it
			return &cp, false, nil
		}
	}
	price := p.Price
	checked := now
	it := &model.Item{
		ID:            m.nextID("item"),
		ExternalID:    p.ExternalID,
		Title:         p.Title,
		ProductURL:    p.ProductURL,
		ImageURL:      p.ImageURL,
		MallName:      p.MallName,
		InitialPrice:  price,
		LastSeenPrice: &price,
		MinPrice:      &price,
		LastCheckedAt: &checked,
		IsActive:      true,
		CreatedAt:     now,
	}
	m.items[it.ID] = it
	cp := *it
	return &cp, true, nil
}

func (m *memStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "item %s", id)
	}
	cp := *it
	return &cp, nil
}

func (m *memStore) ListItems(ctx context.Context, limit, offset int) ([]model.Item, error) {
	var out []model.Item
	for _, it := range m.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListWatchedActiveItems(ctx context.Context) ([]model.Item, error) {
	var out []model.Item
	for _, it := range m.items {
		if !it.IsActive {
			continue
		}
		for _, w := range m.watches {
			if w.ItemID == it.ID && w.IsActive {
				out = append(out, *it)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) TouchItem(ctx context.Context, itemID string, at time.Time) error {
	it, ok := m.items[itemID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "item %s", itemID)
	}
	it.LastCheckedAt = &at
	return nil
}

func (m *memStore) UpdateItemPrice(ctx context.Context, itemID string, lastSeen, minPrice int, at time.Time) error {
	it, ok := m.items[itemID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "item %s", itemID)
	}
	it.LastSeenPrice = &lastSeen
	it.MinPrice = &minPrice
	it.LastCheckedAt = &at
	return nil
}

func (m *memStore) DeactivateItem(ctx context.Context, itemID string) error {
	it, ok := m.items[itemID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "item %s", itemID)
	}
	it.IsActive = false
	return nil
}

func (m *memStore) InsertPricePoint(ctx context.Context, itemID string, price int, at time.Time) (*model.PricePoint, error) {
	pp := &model.PricePoint{ID: m.nextID("pp"), ItemID: itemID, Price: price, CheckedAt: at}
	m.points = append(m.points, pp)
	cp := *pp
	return &cp, nil
}

func (m *memStore) MinPriceSince(ctx context.Context, itemID string, since time.Time) (*int, error) {
	var min *int
	for _, pp := range m.points {
		if pp.ItemID != itemID || pp.CheckedAt.Before(since) {
			continue
		}
		if min == nil || pp.Price < *min {
			v := pp.Price
			min = &v
		}
	}
	return min, nil
}

func (m *memStore) PrevPricePoint(ctx context.Context, itemID, excludeID string) (*model.PricePoint, error) {
	var candidates []*model.PricePoint
	for _, pp := range m.points {
		if pp.ItemID == itemID && pp.ID != excludeID {
			candidates = append(candidates, pp)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CheckedAt.Equal(candidates[j].CheckedAt) {
			return candidates[i].CheckedAt.After(candidates[j].CheckedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	cp := *candidates[0]
	return &cp, nil
}

func (m *memStore) ListPricePoints(ctx context.Context, itemID string, limit int) ([]model.PricePoint, error) {
	var out []model.PricePoint
	for _, pp := range m.points {
		if pp.ItemID == itemID {
			out = append(out, *pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateWatch(ctx context.Context, userID, itemID string) (*model.WatchEntry, error) {
	for _, w := range m.watches {
		if w.UserID == userID && w.ItemID == itemID {
			w.IsActive = true
			cp := *w
			return &cp, nil
		}
	}
	w := &model.WatchEntry{ID: m.nextID("watch"), UserID: userID, ItemID: itemID, IsActive: true, CreatedAt: time.Now().UTC()}
	m.watches[w.ID] = w
	cp := *w
	return &cp, nil
}

func (m *memStore) GetWatch(ctx context.Context, id string) (*model.WatchEntry, error) {
	w, ok := m.watches[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "watch entry %s", id)
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) ListWatches(ctx context.Context, userID string, page store.WatchPage) ([]model.WatchEntry, int, error) {
	var out []model.WatchEntry
	for _, w := range m.watches {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memStore) ActiveWatchesForItem(ctx context.Context, itemID string) ([]model.WatchEntry, error) {
	var out []model.WatchEntry
	for _, w := range m.watches {
		if w.ItemID == itemID && w.IsActive {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeactivateWatch(ctx context.Context, userID, itemID string) error {
	for _, w := range m.watches {
		if w.UserID == userID && w.ItemID == itemID {
			w.IsActive = false
			return nil
		}
	}
	return eris.Wrapf(store.ErrNotFound, "watch entry %s/%s", userID, itemID)
}

func (m *memStore) DeleteWatch(ctx context.Context, userID, itemID string) error {
	for id, w := range m.watches {
		if w.UserID == userID && w.ItemID == itemID {
			delete(m.watches, id)
			return nil
		}
	}
	return eris.Wrapf(store.ErrNotFound, "watch entry %s/%s", userID, itemID)
}

func (m *memStore) CreateAlert(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	out := *rule
	out.ID = m.nextID("alert")
	out.CreatedAt = time.Now().UTC()
	m.alerts[out.ID] = &out
	cp := out
	return &cp, nil
}

func (m *memStore) ListAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	var out []model.AlertRule
	for _, a := range m.alerts {
		if a.WatchID == watchID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) EnabledAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	var out []model.AlertRule
	for _, a := range m.alerts {
		if a.WatchID == watchID && a.IsEnabled {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetAlertEnabled(ctx context.Context, alertID string, enabled bool) (*model.AlertRule, error) {
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "alert rule %s", alertID)
	}
	a.IsEnabled = enabled
	cp := *a
	return &cp, nil
}

func (m *memStore) MarkAlertTriggered(ctx context.Context, alertID, pointID string, at time.Time) error {
	a, ok := m.alerts[alertID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "alert rule %s", alertID)
	}
	a.LastTriggeredPointID = &pointID
	a.LastTriggeredAt = &at
	return nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }
