// Package postgres provides the Postgres-backed record sink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "places"

// RecordSinkConfig controls the Postgres connection pool used for place rows.
type RecordSinkConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordSink writes the records of finished jobs into Postgres. It
// implements scrape.RecordSink.
type RecordSink struct {
	pool  txPool
	table string
}

// NewRecordSink creates a Postgres-backed RecordSink using the provided config.
func NewRecordSink(ctx context.Context, cfg RecordSinkConfig) (*RecordSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordSink{pool: pool, table: table}, nil
}

// NewRecordSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewRecordSinkWithPool(pool txPool, table string) (*RecordSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordSink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the places table when it does not exist.
func (s *RecordSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id       TEXT NOT NULL,
	dedup_key    TEXT NOT NULL,
	name         TEXT NOT NULL,
	address      TEXT,
	phone        TEXT,
	website      TEXT,
	rating       DOUBLE PRECISION,
	review_count INTEGER,
	category     TEXT,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	url          TEXT NOT NULL,
	scraped_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, dedup_key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// WriteRecords inserts every record of jobID in one transaction. Rows
// already present for the job are left untouched.
func (s *RecordSink) WriteRecords(ctx context.Context, jobID string, records []scrape.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record sink is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	dedup_key,
	name,
	address,
	phone,
	website,
	rating,
	review_count,
	category,
	latitude,
	longitude,
	url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
) ON CONFLICT (job_id, dedup_key) DO NOTHING`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, rec := range records {
		args := []any{
			jobID,
			rec.DedupKey(),
			rec.Name,
			rec.Address,
			rec.Phone,
			rec.Website,
			rec.Rating,
			rec.ReviewCount,
			rec.Category,
			rec.Latitude,
			rec.Longitude,
			rec.URL,
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Join(fmt.Errorf("insert place: %w", err), rollback(ctx, tx))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit places: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

var _ scrape.RecordSink = (*RecordSink)(nil)
