// Package postgres persists extracted records into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "scraped_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type beginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore writes crawl records into Postgres.
type RecordStore struct {
	pool  beginCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool beginCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRecords inserts every record of the run within one transaction and returns
// the number of rows written. Nothing is written when any insert fails.
func (s *RecordStore) StoreRecords(ctx context.Context, runID string, dataset map[string][]crawler.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("record store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	rows, err := s.insertAll(ctx, tx, runID, dataset)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return 0, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rows, nil
}

func (s *RecordStore) insertAll(ctx context.Context, tx pgx.Tx, runID string, dataset map[string][]crawler.Record) (int, error) {
	if _, err := tx.Exec(ctx, s.createTableSQL()); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	site,
	item_index,
	captured_at,
	source_url,
	fields
) VALUES ($1,$2,$3,$4,$5,$6)`, s.table)

	rows := 0
	for _, site := range sortedSites(dataset) {
		for _, rec := range dataset[site] {
			fieldsJSON, err := FieldsJSON(rec)
			if err != nil {
				return 0, fmt.Errorf("marshal fields for %s #%d: %w", site, rec.Index(), err)
			}
			if _, err := tx.Exec(ctx, insert,
				runID,
				rec.Site(),
				rec.Index(),
				rec.CapturedAt(),
				rec.SourceURL(),
				fieldsJSON,
			); err != nil {
				return 0, fmt.Errorf("insert record %s #%d: %w", site, rec.Index(), err)
			}
			rows++
		}
	}
	return rows, nil
}

func (s *RecordStore) createTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	site        TEXT        NOT NULL,
	item_index  INTEGER     NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	source_url  TEXT        NOT NULL,
	fields      JSONB       NOT NULL,
	PRIMARY KEY (run_id, site, item_index)
)`, s.table)
}

// FieldsJSON renders a record's fields as a JSON object keyed by field name.
func FieldsJSON(rec crawler.Record) ([]byte, error) {
	fields := rec.Fields()
	obj := make(map[string]crawler.Value, len(fields))
	for _, f := range fields {
		obj[f.Name] = f.Value
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return data, nil
}

func sortedSites(dataset map[string][]crawler.Record) []string {
	return slices.Sorted(maps.Keys(dataset))
}
