package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a kvstore.Store backed by the engine's own Postgres pool
// (grounded on internal/database's pgxpool.Pool wrapper), storing entries in
// the kv_store table created by this package's migration.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool. The caller owns the pool's lifecycle;
// Close on the returned Postgres is a no-op so the pool can be shared with
// other components.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_store (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiryOrNil(ttl))
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

// CompareAndSwap runs the comparison and write inside a single transaction
// so concurrent CAS calls against the same key serialize on Postgres' row
// lock rather than racing — the same pattern internal/mqueue's Postgres
// queue uses for ordering-key locks.
func (p *Postgres) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var cur []byte
	err = tx.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > now()) FOR UPDATE`,
		key,
	).Scan(&cur)
	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, err
	}

	switch {
	case oldValue == nil && exists:
		return false, nil
	case oldValue != nil && !exists:
		return false, nil
	case oldValue != nil && string(cur) != string(oldValue):
		return false, nil
	}

	if newValue == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	// An absent key holds no row lock, so a concurrent create may commit
	// first: on conflict a create only overwrites an expired row, and zero
	// affected rows means this call lost the race.
	tag, err := tx.Exec(ctx, `
		INSERT INTO kv_store (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		WHERE $4 OR (kv_store.expires_at IS NOT NULL AND kv_store.expires_at <= now())
	`, key, newValue, expiryOrNil(ttl), exists)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM kv_store WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())`,
		escapeLikePrefix(prefix)+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *Postgres) Close() error { return nil }

func expiryOrNil(ttl time.Duration) interface{} {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl)
}

// escapeLikePrefix escapes LIKE metacharacters so a prefix containing "%" or
// "_" is matched literally.
func escapeLikePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, prefix[i])
	}
	return string(out)
}
