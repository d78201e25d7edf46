package track

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/naver"
	"github.com/sells-group/pricewatch/internal/normalize"
	"github.com/sells-group/pricewatch/internal/store"
)

// Source is the external marketplace search API the orchestrators consume.
type Source interface {
	Search(ctx context.Context, query, category string, display, start int, sort string) ([]map[string]any, error)
	LookupPrice(ctx context.Context, query, productURL, category string) (int, error)
}

// CollectParams bounds one collection run.
type CollectParams struct {
	Query    string
	Category string
	Total    int
	PageSize int
	Sort     string
	// Strict aborts the run on the first record that fails normalization
	// instead of skipping it.
	Strict bool
}

// Service ties the source, normalizer, reconciler and evaluator together.
// Runs are sequential per item; overlapping runs must be serialized by the
// caller (the schedule runner uses a single loop).
type Service struct {
	store      store.Store
	source     Source
	reconciler *Reconciler
	evaluator  *Evaluator

	defaultCategory string
}

// NewService creates a Service. defaultCategory is applied when a collect
// run does not name one.
func NewService(st store.Store, src Source, defaultCategory string) *Service {
	return &Service{
		store:           st,
		source:          src,
		reconciler:      NewReconciler(st),
		evaluator:       NewEvaluator(st),
		defaultCategory: defaultCategory,
	}
}

// Collect pages through the search source until Total records were
// processed, a page comes back empty, or the source fails. Each normalized
// record is upserted and routed through the reconciler and, when a change
// was recorded, the evaluator for every active watch entry on the item.
// Returns the number of records processed; work done before a source error
// is preserved.
func (s *Service) Collect(ctx context.Context, p CollectParams) (int, error) {
	if p.Total < 1 {
		return 0, nil
	}
	if p.PageSize < 1 || p.PageSize > naver.MaxDisplay {
		return 0, eris.Wrapf(model.ErrValidation, "page size must be between 1 and %d, got %d", naver.MaxDisplay, p.PageSize)
	}
	category := p.Category
	if category == "" {
		category = s.defaultCategory
	}
	sort := p.Sort
	if sort == "" {
		sort = "sim"
	}

	log := zap.L().With(zap.String("component", "track.collect"), zap.String("query", p.Query))

	processed := 0
	start := 1

	for processed < p.Total {
		display := p.PageSize
		if remaining := p.Total - processed; remaining < display {
			display = remaining
		}

		records, err := s.source.Search(ctx, p.Query, category, display, start, sort)
		if err != nil {
			return processed, eris.Wrap(err, "collect: search page")
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			product, err := normalize.Normalize(rec)
			if err != nil {
				if p.Strict {
					return processed, eris.Wrap(err, "collect: normalize record")
				}
				log.Warn("collect: skipping malformed record", zap.Error(err))
				continue
			}
			if err := s.processObservation(ctx, product); err != nil {
				return processed, err
			}
			processed++
			if processed >= p.Total {
				break
			}
		}

		start += len(records)
	}

	log.Info("collect: run finished", zap.Int("processed", processed))
	return processed, nil
}

// processObservation upserts one normalized product and routes it through
// the reconciler and, when a change was recorded on an existing item, the
// evaluator for every active watch entry.
func (s *Service) processObservation(ctx context.Context, product *normalize.Product) error {
	item, created, err := s.store.UpsertItem(ctx, store.UpsertItemParams{
		ExternalID: product.ExternalID,
		Title:      product.Title,
		ProductURL: product.ProductURL,
		ImageURL:   product.ImageURL,
		MallName:   product.MallName,
		Price:      product.Price,
	}, s.reconciler.now())
	if err != nil {
		return eris.Wrapf(err, "collect: upsert item %s", product.ExternalID)
	}

	result, err := s.reconciler.Reconcile(ctx, item, product.Price, created)
	if err != nil {
		return err
	}

	// No alert evaluation on creation: the first observation has no prior
	// state to compare against.
	if created || !result.HistoryRecorded {
		return nil
	}
	return s.evaluateItemWatches(ctx, item.ID, result)
}

func (s *Service) evaluateItemWatches(ctx context.Context, itemID string, result *ReconcileResult) error {
	watches, err := s.store.ActiveWatchesForItem(ctx, itemID)
	if err != nil {
		return eris.Wrapf(err, "evaluate: watches for item %s", itemID)
	}
	for _, w := range watches {
		fired, err := s.evaluator.EvaluateWatch(ctx, w.ID, itemID, result.Point, result.OldLastSeen, result.OldMin)
		if err != nil {
			return err
		}
		if fired > 0 {
			zap.L().Info("alerts fired for watch",
				zap.String("watch_id", w.ID),
				zap.String("item_id", itemID),
				zap.Int("fired", fired),
			)
		}
	}
	return nil
}

// Refresh re-queries the current price of every active item that has at
// least one active watch entry and routes each through the reconciler and
// evaluator. A failing item is logged and skipped; it never aborts the
// batch. Returns the count of items actually reconciled.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	items, err := s.store.ListWatchedActiveItems(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "refresh: list watched items")
	}

	log := zap.L().With(zap.String("component", "track.refresh"))
	log.Info("refresh: starting run", zap.Int("items", len(items)))

	updated := 0
	for i := range items {
		item := &items[i]

		price, err := s.source.LookupPrice(ctx, item.Title, item.ProductURL, s.defaultCategory)
		if err != nil {
			log.Warn("refresh: item lookup failed",
				zap.String("item_id", item.ID),
				zap.String("title", item.Title),
				zap.Error(err),
			)
			continue
		}

		result, err := s.reconciler.Reconcile(ctx, item, price, false)
		if err != nil {
			log.Warn("refresh: reconcile failed",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
			continue
		}
		updated++

		if result.HistoryRecorded {
			if err := s.evaluateItemWatches(ctx, item.ID, result); err != nil {
				log.Warn("refresh: alert evaluation failed",
					zap.String("item_id", item.ID),
					zap.Error(err),
				)
			}
		}
	}

	log.Info("refresh: run finished", zap.Int("updated", updated))
	return updated, nil
}
