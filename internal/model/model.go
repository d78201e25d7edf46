// Package model defines the domain entities shared across the tracker:
// items, price points, watch entries and alert rules.
package model

import "time"

// Item is a distinct external product being monitored.
//
// InitialPrice is set once at creation and never changes. LastSeenPrice and
// MinPrice are owned by the price reconciler; nothing else writes them.
// Items are never deleted, only deactivated.
type Item struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"external_id"`
	Title         string     `json:"title"`
	ProductURL    string     `json:"product_url"`
	ImageURL      string     `json:"image_url,omitempty"`
	MallName      string     `json:"mall_name,omitempty"`
	InitialPrice  int        `json:"initial_price"`
	LastSeenPrice *int       `json:"last_seen_price,omitempty"`
	MinPrice      *int       `json:"min_price,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PricePoint is one timestamped price reading for an item. The price_points
// table is append-only and is the sole source of truth for the rolling
// minimum computation.
type PricePoint struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Price     int       `json:"price"`
	CheckedAt time.Time `json:"checked_at"`
}

// WatchEntry links a user to a tracked item. Unique per (user, item).
// IsActive supports soft removal; an inactive entry is excluded from refresh
// and alert evaluation.
type WatchEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
