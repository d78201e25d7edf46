package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/db"
	"github.com/sells-group/pricewatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. These
// run once per observation, so they dominate store traffic.
var preparedStatements = map[string]string{
	"touch_item":         `UPDATE items SET last_checked_at = $1 WHERE id = $2`,
	"update_item_price":  `UPDATE items SET last_seen_price = $1, min_price = $2, last_checked_at = $3 WHERE id = $4`,
	"insert_price_point": `INSERT INTO price_points (id, item_id, price, checked_at) VALUES ($1, $2, $3, $4)`,
	"min_price_since":    `SELECT MIN(price) FROM price_points WHERE item_id = $1 AND checked_at >= $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	last_checked_at TIMESTAMPTZ,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_points (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	price      INTEGER NOT NULL CHECK (price >= 0),
	checked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS watch_entries (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	is_active  BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id                      TEXT PRIMARY KEY,
	watch_id                TEXT NOT NULL REFERENCES watch_entries(id) ON DELETE CASCADE,
	kind                    TEXT NOT NULL,
	target_price            INTEGER,
	is_enabled              BOOLEAN NOT NULL DEFAULT true,
	last_triggered_point_id TEXT REFERENCES price_points(id) ON DELETE SET NULL,
	last_triggered_at       TIMESTAMPTZ,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_items_active_checked ON items(is_active, last_checked_at);
CREATE INDEX IF NOT EXISTS idx_price_points_item_checked ON price_points(item_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_watch_entries_user ON watch_entries(user_id);
CREATE INDEX IF NOT EXISTS idx_watch_entries_item_active ON watch_entries(item_id, is_active);
CREATE INDEX IF NOT EXISTS idx_alert_rules_watch_enabled ON alert_rules(watch_id, is_enabled);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const itemColumns = `id, external_id, title, product_url, image_url, mall_name,
	initial_price, last_seen_price, min_price, last_checked_at, is_active, created_at`

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ID, &it.ExternalID, &it.Title, &it.ProductURL, &it.ImageURL,
		&it.MallName, &it.InitialPrice, &it.LastSeenPrice, &it.MinPrice,
		&it.LastCheckedAt, &it.IsActive, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, p UpsertItemParams, now time.Time) (*model.Item, bool, error) {
	existing, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE external_id = $1`, p.ExternalID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "postgres: lookup item %s", p.ExternalID)
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
		_, err := s.pool.Exec(ctx,
			`INSERT INTO items (id, external_id, title, product_url, image_url, mall_name,
				initial_price, last_seen_price, min_price, last_checked_at, is_active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			it.ID, it.ExternalID, it.Title, it.ProductURL, it.ImageURL, it.MallName,
			it.InitialPrice, it.LastSeenPrice, it.MinPrice, it.LastCheckedAt, it.IsActive, it.CreatedAt)
		if err != nil {
			return nil, false, eris.Wrapf(err, "postgres: insert item %s", p.ExternalID)
		}
		return it, true, nil
	}

	// Display fields only. Price fields are owned by the reconciler.
	_, err = s.pool.Exec(ctx,
		`UPDATE items SET title = $1, product_url = $2, image_url = $3, mall_name = $4 WHERE id = $5`,
		p.Title, p.ProductURL, p.ImageURL, p.MallName, existing.ID)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: update item %s", existing.ID)
	}
	existing.Title = p.Title
	existing.ProductURL = p.ProductURL
	existing.ImageURL = p.ImageURL
	existing.MallName = p.MallName
	return existing, false, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	it, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get item %s", id)
	}
	return it, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, limit, offset int) ([]model.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresStore) ListWatchedActiveItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT i.id, i.external_id, i.title, i.product_url, i.image_url, i.mall_name,
			i.initial_price, i.last_seen_price, i.min_price, i.last_checked_at, i.is_active, i.created_at
		 FROM items i
		 JOIN watch_entries w ON w.item_id = i.id
		 WHERE w.is_active AND i.is_active
		 ORDER BY i.id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list watched items")
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate items")
}

func (s *PostgresStore) TouchItem(ctx context.Context, itemID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET last_checked_at = $1 WHERE id = $2`, at, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "item %s", itemID)
	}
	return nil
}

func (s *PostgresStore) UpdateItemPrice(ctx context.Context, itemID string, lastSeen, minPrice int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET last_seen_price = $1, min_price = $2, last_checked_at = $3 WHERE id = $4`,
		lastSeen, minPrice, at, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item price %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "item %s", itemID)
	}
	return nil
}

func (s *PostgresStore) DeactivateItem(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET is_active = false WHERE id = $1`, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "item %s", itemID)
	}
	return nil
}

func (s *PostgresStore) InsertPricePoint(ctx context.Context, itemID string, price int, at time.Time) (*model.PricePoint, error) {
	pp := &model.PricePoint{
		ID:        uuid.New().String(),
		ItemID:    itemID,
		Price:     price,
		CheckedAt: at,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_points (id, item_id, price, checked_at) VALUES ($1, $2, $3, $4)`,
		pp.ID, pp.ItemID, pp.Price, pp.CheckedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert price point for %s", itemID)
	}
	return pp, nil
}

func (s *PostgresStore) MinPriceSince(ctx context.Context, itemID string, since time.Time) (*int, error) {
	var min *int
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(price) FROM price_points WHERE item_id = $1 AND checked_at >= $2`,
		itemID, since).Scan(&min)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: min price for %s", itemID)
	}
	return min, nil
}

func (s *PostgresStore) PrevPricePoint(ctx context.Context, itemID, excludeID string) (*model.PricePoint, error) {
	var pp model.PricePoint
	err := s.pool.QueryRow(ctx,
		`SELECT id, item_id, price, checked_at FROM price_points
		 WHERE item_id = $1 AND id <> $2
		 ORDER BY checked_at DESC, id DESC LIMIT 1`,
		itemID, excludeID).Scan(&pp.ID, &pp.ItemID, &pp.Price, &pp.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: prev price point for %s", itemID)
	}
	return &pp, nil
}

func (s *PostgresStore) ListPricePoints(ctx context.Context, itemID string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, price, checked_at FROM price_points
		 WHERE item_id = $1 ORDER BY checked_at DESC, id DESC LIMIT $2`,
		itemID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list price points for %s", itemID)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var pp model.PricePoint
		if err := rows.Scan(&pp.ID, &pp.ItemID, &pp.Price, &pp.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price point")
		}
		points = append(points, pp)
	}
	return points, eris.Wrap(rows.Err(), "postgres: iterate price points")
}

const watchColumns = `id, user_id, item_id, is_active, created_at`

func scanWatch(row pgx.Row) (*model.WatchEntry, error) {
	var w model.WatchEntry
	err := row.Scan(&w.ID, &w.UserID, &w.ItemID, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) CreateWatch(ctx context.Context, userID, itemID string) (*model.WatchEntry, error) {
	existing, err := scanWatch(s.pool.QueryRow(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE user_id = $1 AND item_id = $2`,
		userID, itemID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: lookup watch %s/%s", userID, itemID)
	}

	if existing != nil {
		// Unique per (user, item): a soft-removed entry is reactivated rather
		// than duplicated.
		if !existing.IsActive {
			if _, err := s.pool.Exec(ctx,
				`UPDATE watch_entries SET is_active = true WHERE id = $1`, existing.ID); err != nil {
				return nil, eris.Wrapf(err, "postgres: reactivate watch %s", existing.ID)
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO watch_entries (id, user_id, item_id, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.UserID, w.ItemID, w.IsActive, w.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert watch %s/%s", userID, itemID)
	}
	return w, nil
}

func (s *PostgresStore) GetWatch(ctx context.Context, id string) (*model.WatchEntry, error) {
	w, err := scanWatch(s.pool.QueryRow(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "watch entry %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get watch %s", id)
	}
	return w, nil
}

func (s *PostgresStore) ListWatches(ctx context.Context, userID string, page WatchPage) ([]model.WatchEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM watch_entries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: count watches for %s", userID)
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

	rows, err := s.pool.Query(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE user_id = $1 ORDER BY `+order+` LIMIT $2 OFFSET $3`,
		userID, display, offset)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: list watches for %s", userID)
	}
	defer rows.Close()

	var entries []model.WatchEntry
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan watch")
		}
		entries = append(entries, *w)
	}
	return entries, total, eris.Wrap(rows.Err(), "postgres: iterate watches")
}

func (s *PostgresStore) ActiveWatchesForItem(ctx context.Context, itemID string) ([]model.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+watchColumns+` FROM watch_entries WHERE item_id = $1 AND is_active`, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active watches for %s", itemID)
	}
	defer rows.Close()

	var entries []model.WatchEntry
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan watch")
		}
		entries = append(entries, *w)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate watches")
}

func (s *PostgresStore) DeactivateWatch(ctx context.Context, userID, itemID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watch_entries SET is_active = false WHERE user_id = $1 AND item_id = $2`,
		userID, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate watch %s/%s", userID, itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "watch entry %s/%s", userID, itemID)
	}
	return nil
}

func (s *PostgresStore) DeleteWatch(ctx context.Context, userID, itemID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watch_entries WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete watch %s/%s", userID, itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "watch entry %s/%s", userID, itemID)
	}
	return nil
}

const alertColumns = `id, watch_id, kind, target_price, is_enabled, last_triggered_point_id, last_triggered_at, created_at`

func scanAlert(row pgx.Row) (*model.AlertRule, error) {
	var a model.AlertRule
	err := row.Scan(&a.ID, &a.WatchID, &a.Kind, &a.TargetPrice, &a.IsEnabled,
		&a.LastTriggeredPointID, &a.LastTriggeredAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAlert(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	out := *rule
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_rules (id, watch_id, kind, target_price, is_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		out.ID, out.WatchID, string(out.Kind), out.TargetPrice, out.IsEnabled, out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert alert for watch %s", out.WatchID)
	}
	return &out, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE watch_id = $1 ORDER BY created_at`, watchID)
}

func (s *PostgresStore) EnabledAlerts(ctx context.Context, watchID string) ([]model.AlertRule, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE watch_id = $1 AND is_enabled ORDER BY created_at`, watchID)
}

func (s *PostgresStore) queryAlerts(ctx context.Context, sql string, args ...any) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query alerts")
	}
	defer rows.Close()

	var alerts []model.AlertRule
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		alerts = append(alerts, *a)
	}
	return alerts, eris.Wrap(rows.Err(), "postgres: iterate alerts")
}

func (s *PostgresStore) SetAlertEnabled(ctx context.Context, alertID string, enabled bool) (*model.AlertRule, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET is_enabled = $1 WHERE id = $2`, enabled, alertID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: toggle alert %s", alertID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "alert rule %s", alertID)
	}

	a, err := scanAlert(s.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alert_rules WHERE id = $1`, alertID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get alert %s", alertID)
	}
	return a, nil
}

func (s *PostgresStore) MarkAlertTriggered(ctx context.Context, alertID, pointID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET last_triggered_point_id = $1, last_triggered_at = $2 WHERE id = $3`,
		pointID, at, alertID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark alert %s triggered", alertID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "alert rule %s", alertID)
	}
	return nil
}
