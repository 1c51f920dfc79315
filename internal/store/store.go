// Package store implements the durable layer of the tiered content cache as
// an embedded SQLite database, one table per content category. It is the
// source of truth across process restarts; the in-memory fast layer sits on
// top of it (see internal/cache).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// Store persists cache entries in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// One table per content category. Unknown prefixes land in cache_misc so a
// malformed key still round-trips rather than erroring.
var categoryTables = map[string]string{
	string(types.CategoryScene):  "cache_scene",
	string(types.CategoryGuide):  "cache_guide",
	string(types.CategoryAnswer): "cache_answer",
}

const tableMisc = "cache_misc"

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%s_last_accessed ON %s(last_accessed);
CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at);
`

// NewStore opens (or creates) the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Opening cache store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Cache store schema ready")
	return s, nil
}

// initialize creates the per-category tables.
func (s *Store) initialize() error {
	for _, table := range append(tableList(), tableMisc) {
		ddl := fmt.Sprintf(schemaTemplate, table, table, table, table, table)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

func tableList() []string {
	tables := make([]string, 0, len(categoryTables))
	for _, t := range categoryTables {
		tables = append(tables, t)
	}
	return tables
}

// tableFor routes a cache key to its category table by prefix.
func tableFor(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		if table, ok := categoryTables[key[:i]]; ok {
			return table
		}
	}
	return tableMisc
}

// Get loads the entry for key, or nil when absent. Does not apply expiry;
// the tiered cache owns lazy-expiry semantics.
func (s *Store) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := tableFor(key)
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT key, payload, created_at, expires_at, last_accessed FROM %s WHERE key = ?", table),
		key)

	var entry types.CacheEntry
	var created, expires, accessed int64
	if err := row.Scan(&entry.Key, &entry.Payload, &created, &expires, &accessed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &types.CacheError{Op: "get", Key: key, Err: err}
	}
	entry.CreatedAt = time.Unix(0, created)
	entry.ExpiresAt = time.Unix(0, expires)
	entry.LastAccessedAt = time.Unix(0, accessed)
	return &entry, nil
}

// Put upserts an entry. At most one live row per key.
func (s *Store) Put(ctx context.Context, entry types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tableFor(entry.Key)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, payload, created_at, expires_at, last_accessed)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				payload = excluded.payload,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at,
				last_accessed = excluded.last_accessed`, table),
		entry.Key, entry.Payload,
		entry.CreatedAt.UnixNano(), entry.ExpiresAt.UnixNano(), entry.LastAccessedAt.UnixNano())
	if err != nil {
		return &types.CacheError{Op: "put", Key: entry.Key, Err: err}
	}
	return nil
}

// Delete removes the entry for key. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tableFor(key)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", table), key); err != nil {
		return &types.CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Touch updates last_accessed for key.
func (s *Store) Touch(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tableFor(key)
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET last_accessed = ? WHERE key = ?", table),
		at.UnixNano(), key); err != nil {
		return &types.CacheError{Op: "touch", Key: key, Err: err}
	}
	return nil
}

// Count returns the number of live entries across all category tables.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, table := range append(tableList(), tableMisc) {
		var n int
		row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		if err := row.Scan(&n); err != nil {
			return 0, &types.CacheError{Op: "count", Err: err}
		}
		total += n
	}
	return total, nil
}

// LeastRecent returns the key with the oldest last_accessed across all
// tables, or "" when the store is empty.
func (s *Store) LeastRecent(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	oldestKey := ""
	var oldest int64
	for _, table := range append(tableList(), tableMisc) {
		row := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT key, last_accessed FROM %s ORDER BY last_accessed ASC LIMIT 1", table))
		var key string
		var accessed int64
		if err := row.Scan(&key, &accessed); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return "", &types.CacheError{Op: "least_recent", Err: err}
		}
		if oldestKey == "" || accessed < oldest {
			oldestKey = key
			oldest = accessed
		}
	}
	return oldestKey, nil
}

// Sweep deletes every entry expired at the given instant and reports how
// many rows were removed. Optional for correctness; expiry is lazy on get.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, table := range append(tableList(), tableMisc) {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), now.UnixNano())
		if err != nil {
			return removed, &types.CacheError{Op: "sweep", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	if removed > 0 {
		logging.Store("Sweep removed %d expired entries", removed)
	}
	return removed, nil
}

// Clear empties every category table.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range append(tableList(), tableMisc) {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return &types.CacheError{Op: "clear", Err: err}
		}
	}
	logging.Store("Cache store cleared")
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
