package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Get returns the value stored under key.
func (d *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key=$1;", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set upserts value under key.
func (d *DB) Set(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO kv_entries(key, value, updated_at) VALUES($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;",
		key, value, time.Now().UTC(),
	)
	return err
}
