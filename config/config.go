// Package config loads process settings from the environment and the
// monitoring configuration document from storage. The document is the
// sole authority for targets and webhooks; the scanning core never
// writes it back.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"ebay-scanner/pkg/scanner"
	"ebay-scanner/storage"
)

// DocumentName is the storage object holding the monitoring configuration.
const DocumentName = "config.json"

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Settings holds process-level configuration from environment variables.
type Settings struct {
	// Storage: local directory for development, GCS bucket in production.
	LocalStorage  string `envconfig:"LOCAL_STORAGE" default:""`
	StorageBucket string `envconfig:"STORAGE_BUCKET" default:""`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Seen-item store backend: "json" (document in storage) or "sqlite".
	SeenBackend string `envconfig:"SEEN_BACKEND" default:"json"`
	SeenDBPath  string `envconfig:"SEEN_DB_PATH" default:"./data/seen.db"`

	// Age-based cache eviction; 0 disables the pass entirely.
	MaxCacheAgeHours int `envconfig:"MAX_CACHE_AGE_HOURS" default:"0"`

	// Listing source: "scrape" or "api".
	Source           string `envconfig:"SOURCE" default:"scrape"`
	EbayClientID     string `envconfig:"EBAY_CLIENT_ID" default:""`
	EbayClientSecret string `envconfig:"EBAY_CLIENT_SECRET" default:""`

	// Delay between consecutive webhook dispatches for one target.
	NotifyPacing time.Duration `envconfig:"NOTIFY_PACING" default:"1s"`

	// Log outgoing webhook messages instead of sending them.
	MockWebhook bool `envconfig:"MOCK_WEBHOOK" default:"false"`

	// Consecutive fetch failures for a target before an operational
	// alert is sent; 0 disables alerts.
	AlertAfterFailures int `envconfig:"ALERT_AFTER_FAILURES" default:"3"`
}

// LoadSettings reads process settings from environment variables.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &s, nil
}

// Document is the monitoring configuration: destinations plus the stores
// and searches to scan.
type Document struct {
	Webhooks []scanner.Webhook `json:"webhooks"`
	Stores   []scanner.Target  `json:"stores"`
	Searches []scanner.Target  `json:"searches"`
}

// Load reads and validates the configuration document. A missing or
// unreadable document is an error: the process must not start monitoring
// without one.
func Load(ctx context.Context, store *storage.Store) (*Document, error) {
	data, err := store.Load(ctx, DocumentName)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("configuration document %s not found; create it before starting", DocumentName)
		}
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	// The kind is implied by the list an entry sits in.
	for i := range doc.Stores {
		doc.Stores[i].Kind = scanner.KindStore
	}
	for i := range doc.Searches {
		doc.Searches[i].Kind = scanner.KindSearch
	}

	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &doc, nil
}

func (d *Document) validate() error {
	hooks := make(map[string]bool, len(d.Webhooks))
	for _, w := range d.Webhooks {
		if w.ID == "" {
			return errors.New("webhook with empty id")
		}
		if w.URL == "" {
			return fmt.Errorf("webhook %q has empty url", w.ID)
		}
		if hooks[w.ID] {
			return fmt.Errorf("duplicate webhook id %q", w.ID)
		}
		hooks[w.ID] = true
	}

	for _, t := range d.Targets() {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.WebhookID != "" && !hooks[t.WebhookID] {
			return fmt.Errorf("target %q references unknown webhook %q", t.Identifier, t.WebhookID)
		}
	}

	return nil
}

// Targets returns all configured targets, stores first, in document order.
func (d *Document) Targets() []scanner.Target {
	out := make([]scanner.Target, 0, len(d.Stores)+len(d.Searches))
	out = append(out, d.Stores...)
	out = append(out, d.Searches...)
	return out
}

// EnabledTargets returns the targets the scheduler should run.
func (d *Document) EnabledTargets() []scanner.Target {
	var out []scanner.Target
	for _, t := range d.Targets() {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Webhook resolves a destination by ID. Falls back to the first enabled
// webhook when the target carries no reference.
func (d *Document) Webhook(id string) (scanner.Webhook, bool) {
	if id == "" {
		for _, w := range d.Webhooks {
			if w.Enabled {
				return w, true
			}
		}
		return scanner.Webhook{}, false
	}
	for _, w := range d.Webhooks {
		if w.ID == id {
			return w, w.Enabled
		}
	}
	return scanner.Webhook{}, false
}
