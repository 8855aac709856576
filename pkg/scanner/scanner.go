// Package scanner contains the core domain types for the eBay listing scanner.
package scanner

import (
	"fmt"
	"strings"
)

// Target kinds. A target is either a whole store or a saved search.
const (
	KindStore  = "store"
	KindSearch = "search"
)

// DefaultIntervalMinutes is used when a target does not set its own interval.
const DefaultIntervalMinutes = 5

// Filters narrows what a source returns for a target. All fields optional.
type Filters struct {
	Category    string  `json:"category,omitempty"`
	MinPrice    float64 `json:"min_price,omitempty"`
	MaxPrice    float64 `json:"max_price,omitempty"`
	Condition   string  `json:"condition,omitempty"`   // e.g. "new", "used"
	ListingType string  `json:"listing_type,omitempty"` // e.g. "auction", "fixed"
}

// Target is one monitored store or saved search. It is read-only to the
// scanning core; the configuration document is the sole authority.
type Target struct {
	Kind       string  `json:"kind"`              // "store" or "search"
	Identifier string  `json:"identifier"`        // store name/ID or search query/URL
	Label      string  `json:"label,omitempty"`   // display name for logs and messages
	Enabled    bool    `json:"enabled"`
	Interval   int     `json:"interval_minutes,omitempty"` // positive, defaults to 5
	WebhookID  string  `json:"webhook,omitempty"`          // destination reference
	Filters    Filters `json:"filters,omitempty"`
}

// Key returns the composite key used by the seen-item store and logs.
func (t *Target) Key() string {
	return t.Kind + ":" + t.Identifier
}

// Name returns a human-readable name for the target.
func (t *Target) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Identifier
}

// IntervalMinutes returns the effective scan interval.
func (t *Target) IntervalMinutes() int {
	if t.Interval > 0 {
		return t.Interval
	}
	return DefaultIntervalMinutes
}

// Validate checks the fields the core depends on.
func (t *Target) Validate() error {
	if t.Kind != KindStore && t.Kind != KindSearch {
		return fmt.Errorf("unknown target kind %q", t.Kind)
	}
	if strings.TrimSpace(t.Identifier) == "" {
		return fmt.Errorf("%s target has empty identifier", t.Kind)
	}
	if t.Interval < 0 {
		return fmt.Errorf("target %q has negative interval", t.Identifier)
	}
	return nil
}

// Item is one listing as extracted from a source. Constructed per scan;
// only the ID outlives the scan, inside the seen-item store.
type Item struct {
	ID            string // source-assigned, unique within a target's namespace
	Title         string
	Price         string
	URL           string
	ImageURL      string
	Condition     string
	Location      string
	Shipping      string
	ListingType   string
	BidCount      int
	TimeRemaining string
}

// Webhook is a named notification destination.
type Webhook struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}
