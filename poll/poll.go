// Package poll is the scanning core: it runs each target's scan cycle,
// classifies fetched listings as new or already seen, caps first-scan
// notification volume, and keeps every target on its own jittered
// schedule.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ebay-scanner/pkg/scanner"
	"ebay-scanner/source"
)

// firstScanCap bounds how many notifications a target's first-ever scan
// may dispatch. A target discovered with a deep backlog must not blast
// the channel with hundreds of messages.
const firstScanCap = 2

// Source fetches raw listings for a target.
type Source interface {
	Fetch(ctx context.Context, target *scanner.Target) (*source.Result, error)
}

// Seen is the dedup cache consulted and updated by each scan.
type Seen interface {
	IsNew(ctx context.Context, kind, identifier, itemID string) (bool, error)
	IsFirstScan(ctx context.Context, kind, identifier string) (bool, error)
	MarkSeen(ctx context.Context, kind, identifier string, itemIDs []string) error
}

// Notifier dispatches messages to a resolved destination.
type Notifier interface {
	NotifyItem(ctx context.Context, hook scanner.Webhook, target *scanner.Target, item *scanner.Item) error
	NotifyAlert(ctx context.Context, hook scanner.Webhook, target *scanner.Target, text string) error
}

// Recorder accumulates per-scan usage volume.
type Recorder interface {
	RecordScan(ctx context.Context, bytes int64, requests, items int)
}

// Webhooks resolves a destination reference to a webhook.
type Webhooks interface {
	Webhook(id string) (scanner.Webhook, bool)
}

// Runner executes one target's scan cycle end to end.
type Runner struct {
	source   Source
	seen     Seen
	notifier Notifier
	recorder Recorder
	webhooks Webhooks
	logger   *slog.Logger
}

// NewRunner wires the scan collaborators together.
func NewRunner(src Source, seen Seen, notifier Notifier, recorder Recorder, webhooks Webhooks, logger *slog.Logger) *Runner {
	return &Runner{
		source:   src,
		seen:     seen,
		notifier: notifier,
		recorder: recorder,
		webhooks: webhooks,
		logger:   logger,
	}
}

// RunOnce performs a single scan of the target: fetch, classify, gate,
// dispatch, commit, record. Layout drift is a warning, not a failure;
// a fetch failure aborts the cycle and is returned for the scheduler to
// log and count.
func (r *Runner) RunOnce(ctx context.Context, target *scanner.Target) error {
	runID := uuid.New().String()
	log := r.logger.With("run_id", runID, "target", target.Key())

	log.Info("Scan starting", "name", target.Name())
	start := time.Now()

	res, err := r.source.Fetch(ctx, target)

	var drift *source.DriftError
	if errors.As(err, &drift) {
		// Site reachable but no listings matched the expected markup.
		log.Warn("No listings extracted, possible layout drift", "url", drift.URL)
		if res != nil {
			r.recorder.RecordScan(ctx, res.Bytes, res.Requests, 0)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan %s: %w", target.Key(), err)
	}

	firstScan, err := r.seen.IsFirstScan(ctx, target.Kind, target.Identifier)
	if err != nil {
		return fmt.Errorf("scan %s: check first scan: %w", target.Key(), err)
	}

	newItems, observed := r.classify(ctx, target, res.Items, log)
	dispatch, suppressed := gate(newItems, firstScan)

	if suppressed > 0 {
		log.Info("First scan cap applied",
			"new_items", len(newItems),
			"dispatching", len(dispatch),
			"suppressed", suppressed)
	}

	if len(dispatch) > 0 {
		hook, ok := r.webhooks.Webhook(target.WebhookID)
		if !ok {
			log.Warn("No enabled webhook for target, dropping notifications",
				"webhook_ref", target.WebhookID,
				"new_items", len(dispatch))
		} else {
			for _, item := range dispatch {
				if notifyErr := r.notifier.NotifyItem(ctx, hook, target, item); notifyErr != nil {
					// The item stays in the mark-seen batch: one missed
					// message beats one message per scan forever.
					log.Warn("Notification failed, item will not be retried",
						"item_id", item.ID, "error", notifyErr)
				}
			}
		}
	}

	// Commit every identifier observed this scan, seen or new. Re-marking
	// already-seen identifiers is a no-op refresh.
	if err := r.seen.MarkSeen(ctx, target.Kind, target.Identifier, observed); err != nil {
		log.Warn("Failed to commit seen items", "error", err)
	}

	r.recorder.RecordScan(ctx, res.Bytes, res.Requests, len(res.Items))

	log.Info("Scan completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"total_items", len(res.Items),
		"new_items", len(newItems),
		"notified", len(dispatch),
		"first_scan", firstScan)
	return nil
}

// Alert sends an operational notice for the target through its configured
// destination.
func (r *Runner) Alert(ctx context.Context, target *scanner.Target, text string) {
	hook, ok := r.webhooks.Webhook(target.WebhookID)
	if !ok {
		r.logger.Warn("No enabled webhook for alert", "target", target.Key(), "text", text)
		return
	}
	if err := r.notifier.NotifyAlert(ctx, hook, target, text); err != nil {
		r.logger.Warn("Failed to send alert", "target", target.Key(), "error", err)
	}
}

// classify partitions the fetched items into new vs already seen,
// preserving source order, and collects the identifiers to commit.
// Items without an identifier are dropped entirely: they cannot be
// deduplicated, so notifying them would repeat every scan. Within one
// batch the first occurrence of an identifier wins.
func (r *Runner) classify(ctx context.Context, target *scanner.Target, items []*scanner.Item, log *slog.Logger) (newItems []*scanner.Item, observed []string) {
	inBatch := make(map[string]struct{}, len(items))

	for _, item := range items {
		if item.ID == "" {
			log.Debug("Dropping item with no identifier", "title", item.Title)
			continue
		}
		if _, dup := inBatch[item.ID]; dup {
			continue
		}
		inBatch[item.ID] = struct{}{}
		observed = append(observed, item.ID)

		isNew, err := r.seen.IsNew(ctx, target.Kind, target.Identifier, item.ID)
		if err != nil {
			log.Warn("Novelty check failed, treating item as seen", "item_id", item.ID, "error", err)
			continue
		}
		if isNew {
			newItems = append(newItems, item)
		}
	}
	return newItems, observed
}

// gate selects which new items to dispatch. On a target's first scan it
// passes at most firstScanCap items, in order; the rest are suppressed
// for good, never queued. On any later scan everything passes.
func gate(newItems []*scanner.Item, firstScan bool) (dispatch []*scanner.Item, suppressed int) {
	if !firstScan || len(newItems) <= firstScanCap {
		return newItems, 0
	}
	return newItems[:firstScanCap], len(newItems) - firstScanCap
}
