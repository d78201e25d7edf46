// Package store persists tracked items, price points, watch entries and
// alert rules. Two backends are provided: Postgres (pgx) and SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/model"
)

// ErrNotFound marks a lookup for an unknown item, watch entry or alert rule.
// Surfaced to the immediate caller; never retried.
var ErrNotFound = eris.New("not found")

// UpsertItemParams carries the normalized product fields for item upsert.
type UpsertItemParams struct {
	ExternalID string
	Title      string
	ProductURL string
	ImageURL   string
	MallName   string
	Price      int
}

// WatchPage bounds a watch entry listing. Sort is one of date, asc, dsc.
type WatchPage struct {
	Display int
	Start   int
	Sort    string
}

// Store is the persistence contract for the tracking pipeline. Orchestration
// logic goes through the reconciler/evaluator contracts, never around them,
// so price fields stay consistent.
type Store interface {
	// Items. UpsertItem inserts a new item (price fields seeded from the
	// observed price, atomically) or updates the mutable display fields of an
	// existing one, returning the entity and a created flag.
	UpsertItem(ctx context.Context, p UpsertItemParams, now time.Time) (*model.Item, bool, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]model.Item, error)
	ListWatchedActiveItems(ctx context.Context) ([]model.Item, error)
	TouchItem(ctx context.Context, itemID string, at time.Time) error
	UpdateItemPrice(ctx context.Context, itemID string, lastSeen, minPrice int, at time.Time) error
	DeactivateItem(ctx context.Context, itemID string) error

	// Price points (append-only).
	InsertPricePoint(ctx context.Context, itemID string, price int, at time.Time) (*model.PricePoint, error)
	MinPriceSince(ctx context.Context, itemID string, since time.Time) (*int, error)
	PrevPricePoint(ctx context.Context, itemID, excludeID string) (*model.PricePoint, error)
	ListPricePoints(ctx context.Context, itemID string, limit int) ([]model.PricePoint, error)

	// Watch entries.
	CreateWatch(ctx context.Context, userID, itemID string) (*model.WatchEntry, error)
	GetWatch(ctx context.Context, id string) (*model.WatchEntry, error)
	ListWatches(ctx context.Context, userID string, page WatchPage) ([]model.WatchEntry, int, error)
	ActiveWatchesForItem(ctx context.Context, itemID string) ([]model.WatchEntry, error)
	DeactivateWatch(ctx context.Context, userID, itemID string) error
	DeleteWatch(ctx context.Context, userID, itemID string) error

	// Alert rules.
	CreateAlert(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error)
	ListAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error)
	EnabledAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error)
	SetAlertEnabled(ctx context.Context, alertID string, enabled bool) (*model.AlertRule, error)
	MarkAlertTriggered(ctx context.Context, alertID, pointID string, at time.Time) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
