// Package sqlite stores chat-completion responses keyed by the request that
// produced them.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coastalcabana/gptbatch/pkg/models"
)

// Cache is an exact-match response cache backed by SQLite. Entries expire a
// fixed TTL after they are stored.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Expiry is kept as unix seconds so SQL comparisons do not depend on how the
// driver formats times.
const createResponsesTable = `
CREATE TABLE IF NOT EXISTS responses (
	request_key TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_expiry ON responses(expires_at);
`

// New opens the cache at dbPath. It can share a file with the tracker.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createResponsesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Key identifies the wire request a spec produces. Unset parameters and their
// explicit defaults share a key; model, messages and response schema all
// count.
func Key(spec models.RequestSpec) (string, error) {
	data, err := json.Marshal(spec.ChatCompletionRequest())
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lookup returns the stored response for key. A missing or expired entry is
// reported with ok == false and a nil error.
func (c *Cache) Lookup(ctx context.Context, key string) (response []byte, ok bool, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT response FROM responses WHERE request_key = ? AND expires_at > ?`,
		key, c.now().Unix(),
	).Scan(&response)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return response, true, nil
}

// Store saves response under key, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, key string, response []byte) error {
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO responses (request_key, response, stored_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(request_key) DO UPDATE SET response = excluded.response,
		   stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, response, now.Unix(), now.Add(c.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Stats counts live and expired entries and the bytes they hold.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var s models.CacheStats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(LENGTH(response)), 0)
		 FROM responses`,
		c.now().Unix(),
	).Scan(&s.Entries, &s.Expired, &s.Bytes)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

// Clear removes entries and reports how many were removed. With expiredOnly
// set, live entries are kept.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = c.db.ExecContext(ctx, `DELETE FROM responses WHERE expires_at <= ?`, c.now().Unix())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM responses`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
