package deadletter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the archive's connection pool.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type beginCloser interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresArchive writes one row per drained dead letter.
type PostgresArchive struct {
	pool  beginCloser
	table string
}

// NewPostgresArchive connects a pool using cfg.
func NewPostgresArchive(ctx context.Context, cfg PostgresConfig) (*PostgresArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("deadletter.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a, err := NewPostgresArchiveWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// NewPostgresArchiveWithPool builds an archive over an existing pool.
func NewPostgresArchiveWithPool(pool beginCloser, table string) (*PostgresArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "dead_letters"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresArchive{pool: pool, table: table}, nil
}

// Close releases the pool.
func (a *PostgresArchive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// Store inserts every entry of r in one transaction.
func (a *PostgresArchive) Store(ctx context.Context, r Report) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	report_id,
	message_id,
	job_number,
	retry_count,
	enqueued_at,
	failed_at,
	failure_stage,
	failure_kind,
	last_error,
	body,
	reported_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, a.table)

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	for _, e := range r.Entries {
		args := []any{
			r.ID,
			e.ID,
			e.JobNumber,
			e.RetryCount,
			nullableTime(e.EnqueuedAt),
			nullableTime(e.FailedAt),
			e.Diagnosis.Stage,
			e.Diagnosis.Kind,
			e.LastError,
			e.Body,
			r.GeneratedAt,
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Join(fmt.Errorf("insert dead letter %s: %w", e.ID, err), tx.Rollback(ctx))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
