package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/md-rashed-zaman/visitbook/libs/config"
)

type Pool struct {
	*pgxpool.Pool
}

// Open connects a pool sized by DB_MAX_CONNS / DB_MIN_CONNS and verifies it
// with a ping.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int32(config.Int("DB_MAX_CONNS", 10))
	cfg.MinConns = int32(config.Int("DB_MIN_CONNS", 1))
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	cfg.MaxConnLifetime = config.Duration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// ReadyCheck pings through the pool, so it also fails when no connection can
// be acquired before ctx expires.
func ReadyCheck(pool *Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil || pool.Pool == nil {
			return errors.New("db not configured")
		}
		return pool.Ping(ctx)
	}
}
