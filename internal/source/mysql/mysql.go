// Package mysql is the source backend for MySQL and MariaDB.
package mysql

import (
	"context"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"funnel/internal/config"
	"funnel/internal/source"
)

func init() {
	source.Register("mysql", Open)
}

// Open connects using a go-sql-driver DSN such as
// user:pass@tcp(localhost:3306)/analytics.
func Open(ctx context.Context, cfg config.Source) (source.Source, error) {
	db, err := source.OpenSQL(ctx, "mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &source.SQL{DB: db, Query: source.SelectQuery(cfg, mysqlIdent, mysqlTableIdent)}, nil
}

func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mysqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mysqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
