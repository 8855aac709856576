package seen

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore is the database-backed Store, for deployments whose caches
// outgrow a single rewritten JSON document. Same contract as Cache.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the seen-item database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS seen_items (
		target_key TEXT NOT NULL,
		item_id    TEXT NOT NULL,
		first_seen DATETIME NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (target_key, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_seen_target ON seen_items(target_key);
	`); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("Failed to close database after init error", "error", closeErr)
		}
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info("Seen-item database opened", "path", dbPath)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// IsNew implements Store.
func (s *SQLiteStore) IsNew(ctx context.Context, kind, identifier, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_items WHERE target_key = ? AND item_id = ?`,
		targetKey(kind, identifier), itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen item: %w", err)
	}
	return false, nil
}

// IsFirstScan implements Store.
func (s *SQLiteStore) IsFirstScan(ctx context.Context, kind, identifier string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_items WHERE target_key = ?`,
		targetKey(kind, identifier)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count seen items: %w", err)
	}
	return count == 0, nil
}

// MarkSeen implements Store. INSERT OR IGNORE keeps the commit idempotent.
func (s *SQLiteStore) MarkSeen(ctx context.Context, kind, identifier string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO seen_items (target_key, item_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			s.logger.Warn("Failed to close statement", "error", closeErr)
		}
	}()

	key := targetKey(kind, identifier)
	for _, id := range itemIDs {
		if _, err := stmt.ExecContext(ctx, key, id); err != nil {
			return fmt.Errorf("insert seen item %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EvictOlderThan implements Store. The embedded-timestamp format is not
// expressible in SQL, so rows are scanned and aged ones deleted in Go.
func (s *SQLiteStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	rows, err := s.db.QueryContext(ctx, `SELECT target_key, item_id FROM seen_items`)
	if err != nil {
		return fmt.Errorf("scan seen items: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	type row struct{ key, id string }
	var aged []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.id); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if created, ok := EmbeddedTime(r.id); ok && created.Before(cutoff) {
			aged = append(aged, r)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate seen items: %w", err)
	}

	if len(aged) == 0 {
		return nil
	}

	for _, r := range aged {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM seen_items WHERE target_key = ? AND item_id = ?`, r.key, r.id); err != nil {
			return fmt.Errorf("delete aged item: %w", err)
		}
	}

	s.logger.Info("Evicted aged identifiers from database", "evicted", len(aged), "max_age", maxAge.String())
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
