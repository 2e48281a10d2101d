// Package postgres is the source backend for PostgreSQL, using a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"funnel/internal/config"
	"funnel/internal/source"
	"funnel/internal/transformer"
)

func init() {
	source.Register("postgres", Open)
}

// Source reads events with a single query over a pooled connection.
type Source struct {
	pool  *pgxpool.Pool
	query string
}

// Open creates the pool for cfg.DSN and checks connectivity.
func Open(ctx context.Context, cfg config.Source) (source.Source, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("source: postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("source: ping postgres: %w", err)
	}
	return &Source{pool: pool, query: source.SelectQuery(cfg, pgIdent, pgTableIdent)}, nil
}

// Stream implements source.Source.
func (s *Source) Stream(ctx context.Context, out chan<- *transformer.Row) error {
	rows, err := s.pool.Query(ctx, s.query)
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
		if err := source.Send(ctx, out, row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("source: rows: %w", err)
	}
	return nil
}

// Close implements source.Source.
func (s *Source) Close() error {
	s.pool.Close()
	return nil
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// pgTableIdent quotes a possibly schema-qualified table name.
func pgTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return pgx.Identifier(parts).Sanitize()
}
