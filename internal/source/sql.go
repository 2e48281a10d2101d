package source

import (
	"context"
	"database/sql"
	"fmt"

	"funnel/internal/config"
	"funnel/internal/transformer"
)

// SQL streams the two-column result of Query from a database/sql handle.
// The sqlite, mssql and mysql backends share it.
type SQL struct {
	DB    *sql.DB
	Query string
	Args  []any
}

// SelectQuery builds "SELECT <user>, <stage> FROM <table>" with quote applied
// to every identifier. A "query" option replaces the generated statement; it
// must return the user id first and the stage second.
func SelectQuery(cfg config.Source, quote func(string) string, quoteTable func(string) string) string {
	if q := cfg.Options.String("query", ""); q != "" {
		return q
	}
	cols := Columns(cfg)
	return fmt.Sprintf("SELECT %s, %s FROM %s", quote(cols[0]), quote(cols[1]), quoteTable(cfg.Table))
}

// Stream implements Source.
func (s *SQL) Stream(ctx context.Context, out chan<- *transformer.Row) error {
	rows, err := s.DB.QueryContext(ctx, s.Query, s.Args...)
	if err != nil {
		return fmt.Errorf("source: query: %w", err)
	}
	defer rows.Close()

	var line int
	for rows.Next() {
		line++
		var user, stage any
		if err := rows.Scan(&user, &stage); err != nil {
			return fmt.Errorf("source: scan row %d: %w", line, err)
		}

		row := transformer.GetRow(2)
		row.Line = line
		row.V[0], row.V[1] = user, stage
		if err := Send(ctx, out, row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("source: rows: %w", err)
	}
	return nil
}

// Close implements Source.
func (s *SQL) Close() error { return s.DB.Close() }

// OpenSQL opens driver with dsn and verifies connectivity.
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source: ping %s: %w", driver, err)
	}
	return db, nil
}
