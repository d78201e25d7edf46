package track

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// Evaluator decides which alert rules a price change satisfies and marks
// them triggered. It records the trigger in the store only; nothing is
// delivered anywhere.
type Evaluator struct {
	store store.Store
	now   func() time.Time
}

// NewEvaluator creates an Evaluator over the given store.
func NewEvaluator(st store.Store) *Evaluator {
	return &Evaluator{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// EvaluateWatch runs every enabled rule of one watch entry against a new
// price point. oldMin must be the item's minimum before this update so a
// new-low rule compares the observation against the prior floor. Returns
// the number of rules that fired.
//
// A rule whose last trigger already references this point is skipped, so a
// rule fires at most once per observation.
func (e *Evaluator) EvaluateWatch(ctx context.Context, watchID, itemID string, point *model.PricePoint, oldLastSeen, oldMin *int) (int, error) {
	rules, err := e.store.EnabledAlerts(ctx, watchID)
	if err != nil {
		return 0, eris.Wrapf(err, "evaluate: load rules for watch %s", watchID)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	// Resolved lazily: only drop_from_previous rules need the prior row.
	var prev *model.PricePoint
	prevResolved := false

	triggered := 0
	for i := range rules {
		rule := &rules[i]

		if rule.LastTriggeredPointID != nil && *rule.LastTriggeredPointID == point.ID {
			continue
		}

		hit := false
		switch rule.Kind {
		case model.AlertTargetPrice:
			hit = rule.TargetPrice != nil && point.Price <= *rule.TargetPrice

		case model.AlertDropFromPrevious:
			if !prevResolved {
				prev, err = e.store.PrevPricePoint(ctx, itemID, point.ID)
				if err != nil {
					return triggered, eris.Wrapf(err, "evaluate: prev observation for %s", itemID)
				}
				prevResolved = true
			}
			// Needs at least one observation besides the new one.
			hit = prev != nil && point.Price < prev.Price

		case model.AlertNewLow:
			hit = oldMin != nil && point.Price < *oldMin
		}

		if !hit {
			continue
		}

		if err := e.store.MarkAlertTriggered(ctx, rule.ID, point.ID, e.now()); err != nil {
			return triggered, eris.Wrapf(err, "evaluate: mark rule %s", rule.ID)
		}
		triggered++

		zap.L().Info("alert triggered",
			zap.String("watch_id", watchID),
			zap.String("rule_id", rule.ID),
			zap.String("kind", string(rule.Kind)),
			zap.Int("price", point.Price),
		)
	}

	return triggered, nil
}
