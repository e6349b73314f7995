// Package cache persists computed perceptual hashes keyed by file path so
// repeated runs skip decoding and hashing unchanged trees.
//
// Entries are keyed by path alone. A file whose content changes in place
// keeps returning its old hash until the entry is garbage collected.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/eargollo/dif/internal/db"
)

// Cache is a SQLite-backed path → hash store shared by every pipeline
// worker. Each call holds the lock only for its own statement.
type Cache struct {
	mu     sync.Mutex
	db     *sql.DB
	lookup *sql.Stmt
	insert *sql.Stmt
}

// GCStats reports what CollectGarbage did.
type GCStats struct {
	Checked int
	Removed int
	Failed  int
}

// Open opens or creates the store at path and applies the schema.
func Open(path string) (*Cache, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("init cache %q: %w", path, err)
	}

	c := &Cache{db: database}
	// Oldest row wins when a path was inserted more than once.
	c.lookup, err = database.Prepare(`SELECT hash FROM hashes WHERE path = ? ORDER BY rowid LIMIT 1`)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	c.insert, err = database.Prepare(`INSERT INTO hashes (path, hash) VALUES (?, ?)`)
	if err != nil {
		c.lookup.Close()
		database.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return c, nil
}

// Close releases the prepared statements and the database handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookup.Close()
	c.insert.Close()
	return c.db.Close()
}

// Lookup returns the cached hash for path. ok is false when no entry exists;
// a non-nil error means the store itself failed and is never reported as a
// plain miss.
func (c *Cache) Lookup(ctx context.Context, path string) (hash []byte, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.lookup.QueryRowContext(ctx, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %q: %w", path, err)
	}
	return hash, true, nil
}

// Store inserts a record for path. Existing records are neither checked nor
// replaced.
func (c *Cache) Store(ctx context.Context, path string, hash []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.insert.ExecContext(ctx, path, hash); err != nil {
		return fmt.Errorf("store %q: %w", path, err)
	}
	return nil
}

// CollectGarbage deletes every record whose file no longer exists. Failures
// on individual records are logged and skipped; only a failure to list the
// stored paths is returned.
func (c *Cache) CollectGarbage(ctx context.Context) (GCStats, error) {
	var stats GCStats
	start := time.Now()

	paths, err := c.paths(ctx)
	if err != nil {
		return stats, err
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++

		_, err := os.Lstat(p)
		if err == nil {
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			// Unreachable is not gone; keep the record.
			slog.Debug("cache gc: stat failed, keeping entry", "path", p, "error", err)
			continue
		}

		if err := c.delete(ctx, p); err != nil {
			stats.Failed++
			slog.Warn("cache gc: delete failed", "path", p, "error", err)
			continue
		}
		stats.Removed++
		slog.Debug("cache gc: removed", "path", p)
	}

	slog.Info("cache gc finished",
		"checked", stats.Checked,
		"removed", stats.Removed,
		"failed", stats.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// paths reads the full list of distinct stored paths up front: with a single
// connection, deleting while a result set is open would deadlock.
func (c *Cache) paths(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT path FROM hashes`)
	if err != nil {
		return nil, fmt.Errorf("list cached paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan cached path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cached paths: %w", err)
	}
	return paths, nil
}

func (c *Cache) delete(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM hashes WHERE path = ?`, path)
	return err
}

// Len returns the number of stored records.
func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hashes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
