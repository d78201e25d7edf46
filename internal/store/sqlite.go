package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-file fallback for local use; the single-writer run model means WAL
// with a busy timeout is enough.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	product_url     TEXT NOT NULL,
	image_url       TEXT NOT NULL DEFAULT '',
	mall_name       TEXT NOT NULL DEFAULT '',
	initial_price   INTEGER NOT NULL CHECK (initial_price >= 0),
	last_seen_price INTEGER,
	min_price       INTEGER,
	last_checked_at DATETIME,
	is_active       BOOLEAN NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS price_points (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	price      INTEGER NOT NULL CHECK (price >= 0),
	checked_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS watch_entries (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	is_active  BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id                      TEXT PRIMARY KEY,
	watch_id                TEXT NOT NULL REFERENCES watch_entries(id) ON DELETE CASCADE,
	kind                    TEXT NOT NULL,
	target_price            INTEGER,
	is_enabled              BOOLEAN NOT NULL DEFAULT 1,
	last_triggered_point_id TEXT REFERENCES price_points(id) ON DELETE SET NULL,
	last_triggered_at       DATETIME,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_items_active_checked ON items(is_active, last_checked_at);
CREATE INDEX IF NOT EXISTS idx_price_points_item_checked ON price_points(item_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_watch_entries_user ON watch_entries(user_id);
CREATE INDEX IF NOT EXISTS idx_watch_entries_item_active ON watch_entries(item_id, is_active);
CREATE INDEX IF NOT EXISTS idx_alert_rules_watch_enabled ON alert_rules(watch_id, is_enabled);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemRow(row rowScanner) (*model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ID, &it.ExternalID, &it.Title, &it.ProductURL, &it.ImageURL,
		&it.MallName, &it.InitialPrice, &it.LastSeenPrice, &it.MinPrice,
		&it.LastCheckedAt, &it.IsActive, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, p UpsertItemParams, now time.Time) (*model.Item, bool, error) {
	existing, err := scanItemRow(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE external_id = ?`, p.ExternalID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "sqlite: lookup item %s", p.ExternalID)
	}

	if existing == nil {
		it := &model.Item{
			ID:            uuid.New().String(),
			ExternalID:    p.ExternalID,
			Title:         p.Title,
			ProductURL:    p.ProductURL,
			ImageURL:      p.ImageURL,
			MallName:      p.MallName,
			InitialPrice:  p.Price,
			LastSeenPrice: &p.Price,
			MinPrice:      &p.Price,
			LastCheckedAt: &now,
			IsActive:      true,
			CreatedAt:     now,
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO items (id, external_id, title, product_url, image_url, mall_name,
				initial_price, last_seen_price, min_price, last_checked_at, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.ExternalID, it.Title, it.ProductURL, it.ImageURL, it.MallName,
			it.InitialPrice, it.LastSeenPrice, it.MinPrice, it.LastCheckedAt, it.IsActive, it.CreatedAt)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: insert item %s", p.ExternalID)
		}
		return it, true, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE items SET title = ?, product_url = ?, image_url = ?, mall_name = ? WHERE id = ?`,
		p.Title, p.ProductURL, p.ImageURL, p.MallName, existing.ID)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: update item %s", existing.ID)
	}
	existing.Title = p.Title
	existing.ProductURL = p.ProductURL
	existing.ImageURL = p.ImageURL
	existing.MallName = p.MallName
	return existing, false, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	it, err := scanItemRow(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get item %s", id)
	}
	return it, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, limit, offset int) ([]model.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()
	return collectItemRows(rows)
}

func (s *SQLiteStore) ListWatchedActiveItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT i.id, i.external_id, i.title, i.product_url, i.image_url, i.mall_name,
			i.initial_price, i.last_seen_price, i.min_price, i.last_checked_at, i.is_active, i.created_at
		 FROM items i
		 JOIN watch_entries w ON w.item_id = i.id
		 WHERE w.is_active AND i.is_active
		 ORDER BY i.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list watched items")
	}
	defer rows.Close()
	return collectItemRows(rows)
}

func collectItemRows(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := scanItemRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

func (s *SQLiteStore) TouchItem(ctx context.Context, itemID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_checked_at = ? WHERE id = ?`, at, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch item %s", itemID)
	}
	return requireRow(res, "item %s", itemID)
}

func (s *SQLiteStore) UpdateItemPrice(ctx context.Context, itemID string, lastSeen, minPrice int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_seen_price = ?, min_price = ?, last_checked_at = ? WHERE id = ?`,
		lastSeen, minPrice, at, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item price %s", itemID)
	}
	return requireRow(res, "item %s", itemID)
}

func (s *SQLiteStore) DeactivateItem(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_active = 0 WHERE id = ?`, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate item %s", itemID)
	}
	return requireRow(res, "item %s", itemID)
}

func requireRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return nil
}

func (s *SQLiteStore) InsertPricePoint(ctx context.Context, itemID string, price int, at time.Time) (*model.PricePoint, error) {
	pp := &model.PricePoint{
		ID:        uuid.New().String(),
		ItemID:    itemID,
		Price:     price,
		CheckedAt: at,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_points (id, item_id, price, checked_at) VALUES (?, ?, ?, ?)`,
		pp.ID, pp.ItemID, pp.Price, pp.CheckedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert price point for %s", itemID)
	}
	return pp, nil
}

func (s *SQLiteStore) MinPriceSince(ctx context.Context, itemID string, since time.Time) (*int, error) {
	var min *int
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(price) FROM price_points WHERE item_id = ? AND checked_at >= ?`,
		itemID, since).Scan(&min)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: min price for %s", itemID)
	}
	return min, nil
}

func (s *SQLiteStore) PrevPricePoint(ctx context.Context, itemID, excludeID string) (*model.PricePoint, error) {
	var pp model.PricePoint
	err := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, price, checked_at FROM price_points
		 WHERE item_id = ? AND id <> ?
		 ORDER BY checked_at DESC, id DESC LIMIT 1`,
		itemID, excludeID).Scan(&pp.ID, &pp.ItemID, &pp.Price, &pp.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: prev price point for %s", itemID)
	}
	return &pp, nil
}

func (s *SQLiteStore) ListPricePoints(ctx context.Context, itemID string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, price, checked_at FROM price_points
		 WHERE item_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`,
		itemID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list price points for %s", itemID)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var pp model.PricePoint
		if err := rows.Scan(&pp.ID, &pp.ItemID, &pp.Price, &pp.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price point")
		}
		points = append(points, pp)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: iterate price points")
}

func scanWatchRow(row rowScanner) (*model.WatchEntry, error) {
	var w model.WatchEntry
	err := row.Scan(&w.ID, &w.UserID, &w.ItemID, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) CreateWatch(ctx context.Context, userID, itemID string) (*model.WatchEntry, error) {
	existing, err := scanWatchRow(s.db.QueryRowContext(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE user_id = ? AND item_id = ?`,
		userID, itemID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: lookup watch %s/%s", userID, itemID)
	}

	if existing != nil {
		if !existing.IsActive {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE watch_entries SET is_active = 1 WHERE id = ?`, existing.ID); err != nil {
				return nil, eris.Wrapf(err, "sqlite: reactivate watch %s", existing.ID)
			}
			existing.IsActive = true
		}
		return existing, nil
	}

	w := &model.WatchEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		ItemID:    itemID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO watch_entries (id, user_id, item_id, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.ItemID, w.IsActive, w.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert watch %s/%s", userID, itemID)
	}
	return w, nil
}

func (s *SQLiteStore) GetWatch(ctx context.Context, id string) (*model.WatchEntry, error) {
	w, err := scanWatchRow(s.db.QueryRowContext(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "watch entry %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get watch %s", id)
	}
	return w, nil
}

func (s *SQLiteStore) ListWatches(ctx context.Context, userID string, page WatchPage) ([]model.WatchEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watch_entries WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: count watches for %s", userID)
	}

	order := `created_at DESC`
	switch page.Sort {
	case "asc":
		order = `item_id ASC`
	case "dsc":
		order = `item_id DESC`
	}

	display := page.Display
	if display <= 0 {
		display = 10
	}
	offset := page.Start - 1
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE user_id = ? ORDER BY `+order+` LIMIT ? OFFSET ?`,
		userID, display, offset)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: list watches for %s", userID)
	}
	defer rows.Close()

	var entries []model.WatchEntry
	for rows.Next() {
		w, err := scanWatchRow(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan watch")
		}
		entries = append(entries, *w)
	}
	return entries, total, eris.Wrap(rows.Err(), "sqlite: iterate watches")
}

func (s *SQLiteStore) ActiveWatchesForItem(ctx context.Context, itemID string) ([]model.WatchEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE item_id = ? AND is_active`, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active watches for %s", itemID)
	}
	defer rows.Close()

	var entries []model.WatchEntry
	for rows.Next() {
		w, err := scanWatchRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan watch")
		}
		entries = append(entries, *w)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate watches")
}

func (s *SQLiteStore) DeactivateWatch(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_entries SET is_active = 0 WHERE user_id = ? AND item_id = ?`,
		userID, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate watch %s/%s", userID, itemID)
	}
	return requireRow(res, "watch entry %s/%s", userID, itemID)
}

func (s *SQLiteStore) DeleteWatch(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watch_entries WHERE user_id = ? AND item_id = ?`, userID, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete watch %s/%s", userID, itemID)
	}
	return requireRow(res, "watch entry %s/%s", userID, itemID)
}

func scanAlertRow(row rowScanner) (*model.AlertRule, error) {
	var a model.AlertRule
	var kind string
	err := row.Scan(&a.ID, &a.WatchID, &kind, &a.TargetPrice, &a.IsEnabled,
		&a.LastTriggeredPointID, &a.LastTriggeredAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = model.AlertKind(kind)
	return &a, nil
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	out := *rule
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (id, watch_id, kind, target_price, is_enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		out.ID, out.WatchID, string(out.Kind), out.TargetPrice, out.IsEnabled, out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert alert for watch %s", out.WatchID)
	}
	return &out, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE watch_id = ? ORDER BY created_at`, watchID)
}

func (s *SQLiteStore) EnabledAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE watch_id = ? AND is_enabled ORDER BY created_at`, watchID)
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...any) ([]model.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query alerts")
	}
	defer rows.Close()

	var alerts []model.AlertRule
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		alerts = append(alerts, *a)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: iterate alerts")
}

func (s *SQLiteStore) SetAlertEnabled(ctx context.Context, alertID string, enabled bool) (*model.AlertRule, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET is_enabled = ? WHERE id = ?`, enabled, alertID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: toggle alert %s", alertID)
	}
	if err := requireRow(res, "alert rule %s", alertID); err != nil {
		return nil, err
	}

	a, err := scanAlertRow(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE id = ?`, alertID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get alert %s", alertID)
	}
	return a, nil
}

func (s *SQLiteStore) MarkAlertTriggered(ctx context.Context, alertID, pointID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered_point_id = ?, last_triggered_at = ? WHERE id = ?`,
		pointID, at, alertID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark alert %s triggered", alertID)
	}
	return requireRow(res, "alert rule %s", alertID)
}
