// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package store provides database bootstrap and schema management.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults. A freshly scheduled database container can take
// a few seconds to accept connections; retrying the initial ping avoids a
// crash loop on deploy.
const (
	DefaultConnectAttempts = 5
	connectBaseBackoff     = 500 * time.Millisecond
)

// Connect creates a pgx connection pool and verifies it with a ping,
// retrying with fibonacci backoff up to attempts times.
func Connect(ctx context.Context, databaseURL string, attempts uint64) (*pgxpool.Pool, error) {
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").
			With("operation", "create connection pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(attempts-1, retry.NewFibonacci(connectBaseBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Warn("database ping failed, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempts).
			Wrap(err)
	}

	return pool, nil
}
