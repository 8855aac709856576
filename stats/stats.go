// Package stats accumulates usage counters: bytes transferred, requests
// made, and items processed, bucketed by day and month plus a lifetime
// total.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DocumentName is the storage object holding the serialized counters.
const DocumentName = "stats.json"

// Counters is one accumulation bucket.
type Counters struct {
	Bytes    int64 `json:"bytes"`
	Requests int64 `json:"requests"`
	Items    int64 `json:"items"`
}

func (c *Counters) add(bytes int64, requests, items int) {
	c.Bytes += bytes
	c.Requests += int64(requests)
	c.Items += int64(items)
}

// Document is the persisted shape of the usage stats.
type Document struct {
	Daily   map[string]*Counters `json:"daily_stats"`   // YYYY-MM-DD
	Monthly map[string]*Counters `json:"monthly_stats"` // YYYY-MM
	Total   Counters             `json:"total_stats"`
}

// Persister is the slice of the storage layer the recorder needs.
type Persister interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Recorder accumulates usage counters and persists them after every
// update. Persist failures are logged and swallowed; the next update
// rewrites the full document.
type Recorder struct {
	persister Persister
	logger    *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	doc Document
}

// New loads existing counters, treating a missing or corrupt document as
// empty.
func New(ctx context.Context, persister Persister, logger *slog.Logger) *Recorder {
	r := &Recorder{
		persister: persister,
		logger:    logger,
		now:       time.Now,
		doc: Document{
			Daily:   make(map[string]*Counters),
			Monthly: make(map[string]*Counters),
		},
	}

	data, err := persister.Load(ctx, DocumentName)
	if err != nil {
		logger.Info("No existing usage stats, starting empty", "error", err)
		return r
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("Usage stats document is corrupt, starting empty", "error", err)
		return r
	}
	if doc.Daily == nil {
		doc.Daily = make(map[string]*Counters)
	}
	if doc.Monthly == nil {
		doc.Monthly = make(map[string]*Counters)
	}
	r.doc = doc
	return r
}

// RecordScan accumulates one scan's volume into today's, this month's and
// the lifetime buckets.
func (r *Recorder) RecordScan(ctx context.Context, bytes int64, requests, items int) {
	now := r.now()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	r.mu.Lock()
	if r.doc.Daily[day] == nil {
		r.doc.Daily[day] = &Counters{}
	}
	if r.doc.Monthly[month] == nil {
		r.doc.Monthly[month] = &Counters{}
	}
	r.doc.Daily[day].add(bytes, requests, items)
	r.doc.Monthly[month].add(bytes, requests, items)
	r.doc.Total.add(bytes, requests, items)
	data, err := json.MarshalIndent(&r.doc, "", "  ")
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Failed to serialize usage stats", "error", err)
		return
	}
	if err := r.persister.Save(ctx, DocumentName, data); err != nil {
		r.logger.Warn("Failed to persist usage stats, will retry on next scan", "error", err)
	}
}

// Snapshot returns a copy of the current totals, for reporting.
func (r *Recorder) Snapshot() Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Document{
		Daily:   make(map[string]*Counters, len(r.doc.Daily)),
		Monthly: make(map[string]*Counters, len(r.doc.Monthly)),
		Total:   r.doc.Total,
	}
	for k, v := range r.doc.Daily {
		c := *v
		out.Daily[k] = &c
	}
	for k, v := range r.doc.Monthly {
		c := *v
		out.Monthly[k] = &c
	}
	return out
}
