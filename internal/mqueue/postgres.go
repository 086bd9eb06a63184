package mqueue

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Queue backed by the engine's own Postgres pool: SELECT ...
// FOR UPDATE SKIP LOCKED claims the next ready row for at-least-once
// dispatch, and a session-held pg_advisory_lock keyed on the ordering key's
// hash enforces at most one in-flight task per key across every process
// sharing the database — unlike the NATS adapter's process-local
// alternative.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

const insertTaskSQL = `
	INSERT INTO queue_tasks (id, kind, ordering_key, payload, attempt, ready_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

func (p *Postgres) Enqueue(ctx context.Context, task Task) error {
	return p.insert(ctx, task, time.Now())
}

func (p *Postgres) EnqueueMany(ctx context.Context, tasks []Task) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for _, t := range tasks {
		if _, err := tx.Exec(ctx, insertTaskSQL, t.ID, t.Kind, t.OrderingKey, t.Payload, t.Attempt, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) error {
	return p.insert(ctx, task, time.Now().Add(delay))
}

func (p *Postgres) insert(ctx context.Context, task Task, readyAt time.Time) error {
	_, err := p.pool.Exec(ctx, insertTaskSQL, task.ID, task.Kind, task.OrderingKey, task.Payload, task.Attempt, readyAt)
	return err
}

// advisoryKey hashes an ordering key into the int64 pg_advisory_lock
// expects. Tasks with no ordering key are never locked and may run
// concurrently.
func advisoryKey(orderingKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(orderingKey))
	return int64(h.Sum64())
}

// claimedTask is a task dispatched from a dedicated pool connection; the
// connection stays checked out until the advisory lock it holds (if any)
// is released.
type claimedTask struct {
	task   Task
	conn   *pgxpool.Conn
	locked bool
}

func (p *Postgres) Listen(ctx context.Context, kind string, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		claimed, err := p.claimNext(ctx, kind)
		if err != nil {
			p.logger.Warn("claiming next task failed", slog.String("kind", kind), slog.String("error", err.Error()))
		}
		if claimed != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.process(ctx, claimed, handler)
			}()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Postgres) claimNext(ctx context.Context, kind string) (*claimedTask, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, err
	}

	var task Task
	err = tx.QueryRow(ctx, `
		SELECT id, kind, ordering_key, payload, attempt
		FROM queue_tasks
		WHERE kind = $1 AND ready_at <= now()
		ORDER BY ready_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, kind).Scan(&task.ID, &task.Kind, &task.OrderingKey, &task.Payload, &task.Attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		tx.Rollback(ctx)
		conn.Release()
		return nil, nil
	}
	if err != nil {
		tx.Rollback(ctx)
		conn.Release()
		return nil, err
	}

	locked := true
	if task.OrderingKey != "" {
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryKey(task.OrderingKey)).Scan(&locked); err != nil {
			tx.Rollback(ctx)
			conn.Release()
			return nil, err
		}
	}
	if !locked {
		// Another session already holds the ordering key's lock; leave
		// the row for a later poll instead of dispatching it now.
		tx.Rollback(ctx)
		conn.Release()
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, task.ID); err != nil {
		p.unlock(ctx, conn, task.OrderingKey)
		tx.Rollback(ctx)
		conn.Release()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		p.unlock(ctx, conn, task.OrderingKey)
		conn.Release()
		return nil, err
	}

	return &claimedTask{task: task, conn: conn, locked: task.OrderingKey != ""}, nil
}

func (p *Postgres) process(ctx context.Context, claimed *claimedTask, handler Handler) {
	defer func() {
		if claimed.locked {
			p.unlock(ctx, claimed.conn, claimed.task.OrderingKey)
		}
		claimed.conn.Release()
	}()

	if err := handler(ctx, claimed.task); err != nil {
		claimed.task.Attempt++
		if insErr := p.insert(ctx, claimed.task, time.Now().Add(time.Second)); insErr != nil {
			p.logger.Error("failed to requeue task after handler error",
				slog.String("task_id", claimed.task.ID), slog.String("error", insErr.Error()))
		}
	}
}

// unlock releases the session-held advisory lock for orderingKey on conn.
// A false result means the lock/unlock counts for this session have
// drifted — every acquire here is matched by exactly one release, so this
// should never happen outside a bug in claimNext/process.
func (p *Postgres) unlock(ctx context.Context, conn *pgxpool.Conn, orderingKey string) {
	var released bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, advisoryKey(orderingKey)).Scan(&released); err != nil {
		p.logger.Error("releasing advisory lock failed", slog.String("ordering_key", orderingKey), slog.String("error", err.Error()))
		return
	}
	if !released {
		p.logger.Error("advisory unlock reported no lock held", slog.String("ordering_key", orderingKey))
	}
}

func (p *Postgres) Close() error { return nil }
