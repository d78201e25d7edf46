package track

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// watchSorts are the accepted ListWatches sort keys.
var watchSorts = map[string]bool{"": true, "date": true, "sim": true, "asc": true, "dsc": true}

// AddWatch subscribes a user to an item. A soft-removed entry is
// reactivated instead of duplicated.
func (s *Service) AddWatch(ctx context.Context, userID, itemID string) (*model.WatchEntry, error) {
	if userID == "" || itemID == "" {
		return nil, eris.Wrap(model.ErrValidation, "user and item are required")
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.CreateWatch(ctx, userID, itemID)
}

// RemoveWatch unsubscribes a user from an item. hard deletes the row;
// otherwise the entry is deactivated and can be re-added later.
func (s *Service) RemoveWatch(ctx context.Context, userID, itemID string, hard bool) error {
	if hard {
		return s.store.DeleteWatch(ctx, userID, itemID)
	}
	return s.store.DeactivateWatch(ctx, userID, itemID)
}

// ListWatches returns one page of a user's watch entries plus the total
// count. Paging bounds follow the search API conventions: display 1-100,
// start >= 1.
func (s *Service) ListWatches(ctx context.Context, userID string, page store.WatchPage) ([]model.WatchEntry, int, error) {
	if page.Display < 0 || page.Display > 100 {
		return nil, 0, eris.Wrapf(model.ErrValidation, "display must be between 1 and 100, got %d", page.Display)
	}
	if page.Start < 0 || page.Start > 1000 {
		return nil, 0, eris.Wrapf(model.ErrValidation, "start must be between 1 and 1000, got %d", page.Start)
	}
	if !watchSorts[page.Sort] {
		return nil, 0, eris.Wrapf(model.ErrValidation, "unknown sort %q", page.Sort)
	}
	return s.store.ListWatches(ctx, userID, page)
}

// CreateAlert attaches a rule to a watch entry. Kind-specific requirements
// are enforced by the model constructor before anything is written.
func (s *Service) CreateAlert(ctx context.Context, watchID string, kind model.AlertKind, targetPrice *int) (*model.AlertRule, error) {
	if _, err := s.store.GetWatch(ctx, watchID); err != nil {
		return nil, err
	}
	rule, err := model.NewAlertRule(watchID, kind, targetPrice)
	if err != nil {
		return nil, err
	}
	return s.store.CreateAlert(ctx, rule)
}

// ListAlerts returns every rule on a watch entry.
func (s *Service) ListAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	if _, err := s.store.GetWatch(ctx, watchID); err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, watchID)
}

// SetAlertEnabled toggles a rule.
func (s *Service) SetAlertEnabled(ctx context.Context, alertID string, enabled bool) (*model.AlertRule, error) {
	return s.store.SetAlertEnabled(ctx, alertID, enabled)
}

// GetItem returns one tracked item.
func (s *Service) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	return s.store.GetItem(ctx, itemID)
}

// ListItems returns one page of tracked items.
func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]model.Item, error) {
	return s.store.ListItems(ctx, limit, offset)
}

// PriceHistory returns the most recent observations for an item, newest
// first.
func (s *Service) PriceHistory(ctx context.Context, itemID string, limit int) ([]model.PricePoint, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListPricePoints(ctx, itemID, limit)
}

// DeactivateItem retires an item from tracking. Items are never deleted.
func (s *Service) DeactivateItem(ctx context.Context, itemID string) error {
	return s.store.DeactivateItem(ctx, itemID)
}
