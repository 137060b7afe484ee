package reconcile

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/md-rashed-zaman/visitbook/libs/db"
)

// AdvisoryLock is a Postgres session advisory lock. The session is pinned to
// one pooled connection for as long as the lock is held.
type AdvisoryLock struct {
	pool *db.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewAdvisoryLock(pool *db.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return false, err
	}
	if !locked {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Unlock(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
