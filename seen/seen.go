// Package seen tracks which item identifiers have already been observed
// for each monitored target. It is the dedup cache behind novelty
// detection.
//
// The store is check-only: IsNew never mutates state. Newly observed
// identifiers are committed in one batch through MarkSeen after the
// scan's notifications have been dispatched. MarkSeen is idempotent, so
// a re-commit after a crash between check and persist is harmless; the
// worst case is a single repeated notification.
package seen

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DocumentName is the storage object holding the serialized cache.
const DocumentName = "seen.json"

// Store is the membership test consulted by the novelty filter.
type Store interface {
	// IsNew reports whether itemID has never been recorded for the
	// target. It does not mutate state.
	IsNew(ctx context.Context, kind, identifier, itemID string) (bool, error)
	// IsFirstScan reports whether the target has no recorded items at
	// all. Cache-lifetime, not process-lifetime.
	IsFirstScan(ctx context.Context, kind, identifier string) (bool, error)
	// MarkSeen records all given identifiers for the target. Already
	// recorded identifiers are a no-op refresh.
	MarkSeen(ctx context.Context, kind, identifier string, itemIDs []string) error
	// EvictOlderThan drops identifiers whose embedded creation time is
	// older than maxAge. Identifiers without a parseable embedded time
	// are kept.
	EvictOlderThan(ctx context.Context, maxAge time.Duration) error
	Close() error
}

// Persister is the slice of the storage layer the cache needs.
type Persister interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Cache is the JSON-document Store. All state lives in memory; the
// whole document is rewritten after every mutation. A failed write is
// logged and swallowed — memory stays authoritative and the next
// mutation rewrites the full document anyway.
type Cache struct {
	persister Persister
	logger    *slog.Logger
	items     map[string]map[string]struct{} // target key -> set of item IDs
	mu        sync.Mutex
}

// NewCache loads the persisted cache, treating a missing or corrupt
// document as empty.
func NewCache(ctx context.Context, persister Persister, logger *slog.Logger) *Cache {
	c := &Cache{
		persister: persister,
		logger:    logger,
		items:     make(map[string]map[string]struct{}),
	}

	data, err := persister.Load(ctx, DocumentName)
	if err != nil {
		logger.Info("No existing seen-item cache, starting empty", "error", err)
		return c
	}

	var doc map[string][]string
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("Seen-item cache is corrupt, starting empty", "error", err)
		return c
	}

	total := 0
	for key, ids := range doc {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		c.items[key] = set
		total += len(set)
	}

	logger.Info("Seen-item cache loaded", "targets", len(c.items), "items", total)
	return c
}

func targetKey(kind, identifier string) string {
	return kind + ":" + identifier
}

// IsNew implements Store.
func (c *Cache) IsNew(_ context.Context, kind, identifier, itemID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.items[targetKey(kind, identifier)]
	if !ok {
		return true, nil
	}
	_, found := set[itemID]
	return !found, nil
}

// IsFirstScan implements Store.
func (c *Cache) IsFirstScan(_ context.Context, kind, identifier string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items[targetKey(kind, identifier)]) == 0, nil
}

// MarkSeen implements Store. Persistence failure is not returned: the
// in-memory set already holds the identifiers and the next mutation
// retries the write.
func (c *Cache) MarkSeen(ctx context.Context, kind, identifier string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	c.mu.Lock()
	key := targetKey(kind, identifier)
	set, ok := c.items[key]
	if !ok {
		set = make(map[string]struct{}, len(itemIDs))
		c.items[key] = set
	}
	added := 0
	for _, id := range itemIDs {
		if _, dup := set[id]; !dup {
			set[id] = struct{}{}
			added++
		}
	}
	total := len(set)
	data, err := c.serializeLocked()
	c.mu.Unlock()

	if added > 0 {
		c.logger.Debug("Marked items as seen", "target", key, "added", added, "total", total)
	}

	if err != nil {
		c.logger.Warn("Failed to serialize seen-item cache", "error", err)
		return nil
	}
	if err := c.persister.Save(ctx, DocumentName, data); err != nil {
		c.logger.Warn("Failed to persist seen-item cache, will retry on next mutation", "target", key, "error", err)
	}
	return nil
}

// EvictOlderThan implements Store.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	evicted := 0
	for key, set := range c.items {
		for id := range set {
			created, ok := EmbeddedTime(id)
			if ok && created.Before(cutoff) {
				delete(set, id)
				evicted++
			}
		}
		if len(set) == 0 {
			delete(c.items, key)
		}
	}
	data, err := c.serializeLocked()
	c.mu.Unlock()

	if evicted == 0 {
		return nil
	}

	c.logger.Info("Evicted aged identifiers from cache", "evicted", evicted, "max_age", maxAge.String())

	if err != nil {
		c.logger.Warn("Failed to serialize seen-item cache", "error", err)
		return nil
	}
	if err := c.persister.Save(ctx, DocumentName, data); err != nil {
		c.logger.Warn("Failed to persist seen-item cache after eviction", "error", err)
	}
	return nil
}

// Close implements Store. The JSON cache has nothing to release.
func (*Cache) Close() error { return nil }

func (c *Cache) serializeLocked() ([]byte, error) {
	doc := make(map[string][]string, len(c.items))
	for key, set := range c.items {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		doc[key] = ids
	}
	return json.MarshalIndent(doc, "", "  ")
}

// EmbeddedTime extracts a creation timestamp from identifiers of the
// form "<anything>-<epochMillis>". Returns false when no plausible
// timestamp is embedded, which callers treat as "age zero".
func EmbeddedTime(itemID string) (time.Time, bool) {
	idx := strings.LastIndexByte(itemID, '-')
	if idx < 0 || idx == len(itemID)-1 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(itemID[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	// Anything below 13 digits is an ordinal, not epoch milliseconds.
	if ms < 1_000_000_000_000 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
