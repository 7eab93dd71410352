package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
)

// maxBatch keeps IN (...) lists under SQLite's bound parameter limit.
const maxBatch = 500

// FetchFunc produces a fresh payload for a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// MetadataCache is a TTL cache of opaque payloads partitioned by scope.
//
// An entry is served only while now - fetched_at <= ttl, where ttl is supplied by the reader.
// Stale entries stay on disk until overwritten or purged.
type MetadataCache struct {
	db    *sql.DB
	clock clock.Clock
}

// NewMetadataCache creates a cache over db. A nil clock means wall time.
func NewMetadataCache(db *sql.DB, clk clock.Clock) *MetadataCache {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &MetadataCache{db: db, clock: clk}
}

// Get returns the fresh payload for (scope, key).
func (c *MetadataCache) Get(ctx context.Context, scope, key string, ttl time.Duration) ([]byte, bool, error) {
	var payload []byte
	var fetchedAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM metadata_cache WHERE scope = ? AND cache_key = ?`,
		scope, key,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistenceErr("read cache "+scope+"/"+key, err)
	}

	if !c.fresh(fetchedAt, ttl) {
		return nil, false, nil
	}
	return payload, true, nil
}

// Put stores payload for (scope, key) stamped with the current time.
func (c *MetadataCache) Put(ctx context.Context, scope, key string, payload []byte, ttl time.Duration) error {
	return c.PutMany(ctx, scope, map[string][]byte{key: payload}, ttl)
}

// GetOrFetch serves a fresh entry or calls fetch and stores its result.
//
// With force set the stored entry is ignored but the fetched payload is still written.
// Fetch errors are returned as is and nothing is stored.
func (c *MetadataCache) GetOrFetch(ctx context.Context, scope, key string, ttl time.Duration, force bool, fetch FetchFunc) ([]byte, error) {
	if !force {
		payload, ok, err := c.Get(ctx, scope, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
	}

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.Put(ctx, scope, key, payload, ttl); err != nil {
		return nil, err
	}
	return payload, nil
}

// GetMany returns the fresh entries among keys. Missing and stale keys are absent from the map.
func (c *MetadataCache) GetMany(ctx context.Context, scope string, keys []string, ttl time.Duration) (map[string][]byte, error) {
	found := make(map[string][]byte, len(keys))

	for start := 0; start < len(keys); start += maxBatch {
		batch := keys[start:min(start+maxBatch, len(keys))]

		args := make([]any, 0, len(batch)+1)
		args = append(args, scope)
		for _, k := range batch {
			args = append(args, k)
		}

		query := `SELECT cache_key, payload, fetched_at FROM metadata_cache WHERE scope = ? AND cache_key IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",") + `)`

		if err := c.scanMany(ctx, query, args, ttl, found); err != nil {
			return nil, err
		}
	}

	return found, nil
}

func (c *MetadataCache) scanMany(ctx context.Context, query string, args []any, ttl time.Duration, into map[string][]byte) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return persistenceErr("read cache batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var payload []byte
		var fetchedAt int64
		if err := rows.Scan(&key, &payload, &fetchedAt); err != nil {
			return persistenceErr("scan cache row", err)
		}
		if c.fresh(fetchedAt, ttl) {
			into[key] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return persistenceErr("iterate cache batch", err)
	}
	return nil
}

// PutMany stores entries in one transaction.
func (c *MetadataCache) PutMany(ctx context.Context, scope string, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	now := c.clock.Now().UnixNano()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin cache write", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metadata_cache (scope, cache_key, payload, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scope, cache_key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			ttl_seconds = excluded.ttl_seconds
	`)
	if err != nil {
		return persistenceErr("prepare cache write", err)
	}
	defer stmt.Close()

	for key, payload := range entries {
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, scope, key, payload, now, int64(ttl/time.Second)); err != nil {
			return persistenceErr("write cache "+scope+"/"+key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit cache write", err)
	}
	return nil
}

// Invalidate drops every entry of scope, or of all scopes when scope is empty.
func (c *MetadataCache) Invalidate(ctx context.Context, scope string) (int64, error) {
	query, args := `DELETE FROM metadata_cache`, []any{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, scope)
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistenceErr("invalidate cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Purge deletes entries older than the ttl they were written with.
func (c *MetadataCache) Purge(ctx context.Context) (int64, error) {
	now := c.clock.Now().UnixNano()

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM metadata_cache WHERE fetched_at + ttl_seconds * 1000000000 < ?`, now)
	if err != nil {
		return 0, persistenceErr("purge cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *MetadataCache) fresh(fetchedAt int64, ttl time.Duration) bool {
	return c.clock.Since(time.Unix(0, fetchedAt)) <= ttl
}

// Count returns the number of stored entries, fresh or not.
func (c *MetadataCache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata_cache`).Scan(&n); err != nil {
		return 0, persistenceErr("count cache", err)
	}
	return n, nil
}
