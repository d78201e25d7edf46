// Package track holds the price-update reconciliation and alert-evaluation
// engine, plus the collection and refresh orchestrators built on it.
package track

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// minPriceWindow is the trailing window the rolling minimum covers.
const minPriceWindow = 7 * 24 * time.Hour

// ReconcileResult reports what a reconciliation did. OldLastSeen and OldMin
// capture the item state before the update so the alert evaluator can
// compare the new observation against the prior floor.
type ReconcileResult struct {
	HistoryRecorded bool
	Point           *model.PricePoint
	OldLastSeen     *int
	OldMin          *int
}

// Reconciler decides, for each incoming price observation, whether it is a
// meaningful change, records history, and maintains the rolling minimum.
type Reconciler struct {
	store store.Store
	now   func() time.Time
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Reconcile applies one observed price to an item.
//
// For a newly created item the price fields were already seeded by the
// upsert; exactly one price point is recorded and no alert evaluation is
// signalled. Otherwise an unchanged price only touches last_checked_at,
// and a changed price records history, updates last_seen_price, and updates
// min_price: directly when the observation is a new low (or no minimum is
// set), and by recomputing over the trailing 7 days otherwise, which
// corrects for a previous minimum aging out of the window.
func (r *Reconciler) Reconcile(ctx context.Context, item *model.Item, observed int, isNew bool) (*ReconcileResult, error) {
	now := r.now()

	if isNew {
		point, err := r.store.InsertPricePoint(ctx, item.ID, observed, now)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: record first observation for %s", item.ID)
		}
		return &ReconcileResult{HistoryRecorded: true, Point: point}, nil
	}

	if item.LastSeenPrice != nil && *item.LastSeenPrice == observed {
		if err := r.store.TouchItem(ctx, item.ID, now); err != nil {
			return nil, eris.Wrapf(err, "reconcile: touch %s", item.ID)
		}
		item.LastCheckedAt = &now
		return &ReconcileResult{HistoryRecorded: false, OldLastSeen: item.LastSeenPrice, OldMin: item.MinPrice}, nil
	}

	oldLastSeen := item.LastSeenPrice
	oldMin := item.MinPrice

	point, err := r.store.InsertPricePoint(ctx, item.ID, observed, now)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: record observation for %s", item.ID)
	}

	newMin := observed
	if oldMin == nil || observed < *oldMin {
		// New low (or no floor yet): no scan needed.
	} else {
		// The old minimum may have aged out of the window; recompute over
		// the trailing 7 days. The query includes the point just inserted.
		min, err := r.store.MinPriceSince(ctx, item.ID, now.Add(-minPriceWindow))
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: window minimum for %s", item.ID)
		}
		if min != nil {
			newMin = *min
		}
	}

	if err := r.store.UpdateItemPrice(ctx, item.ID, observed, newMin, now); err != nil {
		return nil, eris.Wrapf(err, "reconcile: update price for %s", item.ID)
	}

	item.LastSeenPrice = &observed
	item.MinPrice = &newMin
	item.LastCheckedAt = &now

	zap.L().Debug("reconcile: price change recorded",
		zap.String("item_id", item.ID),
		zap.Int("price", observed),
		zap.Int("min_price", newMin),
	)

	return &ReconcileResult{
		HistoryRecorded: true,
		Point:           point,
		OldLastSeen:     oldLastSeen,
		OldMin:          oldMin,
	}, nil
}
