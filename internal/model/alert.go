package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrValidation marks a rejected input (bad rule configuration, out-of-range
// paging parameters). Checked with eris.Is before any state mutation.
var ErrValidation = eris.New("validation failed")

// AlertKind identifies the condition an alert rule watches for.
type AlertKind string

const (
	// AlertTargetPrice fires when the observed price reaches a fixed target.
	AlertTargetPrice AlertKind = "target_price"
	// AlertDropFromPrevious fires when the price falls below the immediately
	// preceding observation.
	AlertDropFromPrevious AlertKind = "drop_from_previous"
	// AlertNewLow fires when the price falls below the rolling 7-day minimum.
	AlertNewLow AlertKind = "new_low"
)

// Valid reports whether k is a known alert kind.
func (k AlertKind) Valid() bool {
	switch k {
	case AlertTargetPrice, AlertDropFromPrevious, AlertNewLow:
		return true
	}
	return false
}

// AlertRule is a condition attached to a watch entry. TargetPrice is set iff
// Kind is AlertTargetPrice. LastTriggeredPointID records the most recent
// price point that fired this rule and is used purely for deduplication.
// Trigger fields are mutated only by the alert evaluator.
type AlertRule struct {
	ID                   string     `json:"id"`
	WatchID              string     `json:"watch_id"`
	Kind                 AlertKind  `json:"kind"`
	TargetPrice          *int       `json:"target_price,omitempty"`
	IsEnabled            bool       `json:"is_enabled"`
	LastTriggeredPointID *string    `json:"last_triggered_point_id,omitempty"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// NewAlertRule builds an enabled rule for the given watch entry, enforcing
// per-kind field requirements before anything reaches the store.
func NewAlertRule(watchID string, kind AlertKind, targetPrice *int) (*AlertRule, error) {
	if watchID == "" {
		return nil, eris.Wrap(ErrValidation, "alert rule requires a watch entry")
	}
	if !kind.Valid() {
		return nil, eris.Wrapf(ErrValidation, "unknown alert kind %q", kind)
	}

	switch kind {
	case AlertTargetPrice:
		if targetPrice == nil {
			return nil, eris.Wrap(ErrValidation, "target_price is required for target_price rules")
		}
		if *targetPrice < 0 {
			return nil, eris.Wrapf(ErrValidation, "target_price must be non-negative, got %d", *targetPrice)
		}
	default:
		if targetPrice != nil {
			return nil, eris.Wrapf(ErrValidation, "target_price is not allowed for %s rules", kind)
		}
	}

	return &AlertRule{
		WatchID:     watchID,
		Kind:        kind,
		TargetPrice: targetPrice,
		IsEnabled:   true,
	}, nil
}
