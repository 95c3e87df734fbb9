package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// SQLiteExporter writes one table per site into a SQLite database file.
type SQLiteExporter struct {
	store  crawler.BlobStore
	tmpDir string
}

// NewSQLiteExporter creates a SQLiteExporter. The database is built in tmpDir
// (the OS default when empty) and then handed to the blob store.
func NewSQLiteExporter(store crawler.BlobStore, tmpDir string) *SQLiteExporter {
	return &SQLiteExporter{store: store, tmpDir: tmpDir}
}

// Format implements Exporter.
func (e *SQLiteExporter) Format() string { return "sqlite" }

// Export implements Exporter.
func (e *SQLiteExporter) Export(ctx context.Context, run Run) ([]string, error) {
	tmp, err := os.CreateTemp(e.tmpDir, "scraped-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp database: %w", err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path) //nolint:errcheck // temp artifact

	if err := writeSQLite(ctx, path, run.Dataset); err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 -- temp file created above.
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer f.Close()

	name := fmt.Sprintf("scraped_data_%s.db", run.Stamp())
	uri, err := e.store.PutObject(ctx, name, "application/vnd.sqlite3", f)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	return []string{uri}, nil
}

func writeSQLite(ctx context.Context, path string, dataset map[string][]crawler.Record) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite transaction: %w", err)
	}
	for _, site := range nonEmptySites(dataset) {
		if err := writeSiteTable(ctx, tx, site, dataset[site]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite: %w", err)
	}
	return nil
}

func writeSiteTable(ctx context.Context, tx *sql.Tx, site string, records []crawler.Record) error {
	table := quoteIdent(SafeName(site))
	fields := fieldColumns(records)

	defs := []string{"site TEXT", "item_index INTEGER", "captured_at TEXT", "source_url TEXT"}
	cols := append([]string(nil), provenanceColumns...)
	for _, f := range fields {
		defs = append(defs, quoteIdent(f)+" TEXT")
		cols = append(cols, quoteIdent(f))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("drop table %s: %w", site, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", site, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", site, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args := []any{rec.Site(), rec.Index(), rec.CapturedAt().Format(time.RFC3339Nano), rec.SourceURL()}
		for _, f := range fields {
			var cell any
			if v, ok := rec.Get(f); ok {
				if s, present := v.Flatten(ListSeparator); present {
					cell = s
				}
			}
			args = append(args, cell)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s #%d: %w", site, rec.Index(), err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
