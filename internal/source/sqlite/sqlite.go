// Package sqlite is the source backend for SQLite databases (modernc.org/sqlite,
// no cgo).
package sqlite

import (
	"context"
	"strings"

	_ "modernc.org/sqlite"

	"funnel/internal/config"
	"funnel/internal/source"
)

func init() {
	source.Register("sqlite", Open)
}

// Open connects to the database file named by cfg.DSN and prepares the
// events query.
func Open(ctx context.Context, cfg config.Source) (source.Source, error) {
	db, err := source.OpenSQL(ctx, "sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &source.SQL{DB: db, Query: source.SelectQuery(cfg, sqlIdent, sqlIdent)}, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
