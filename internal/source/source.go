// Package source defines the input side of the funnel pipeline. A Source
// streams [user_id, stage] rows from one backend (a local file or a database
// table); backends register themselves by kind from init().
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"funnel/internal/config"
	"funnel/internal/transformer"
)

// ErrInputNotFound is returned (wrapped with the path) when a file source
// points at a file that does not exist.
var ErrInputNotFound = errors.New("input not found")

// Source streams event rows. Every row sent on out has two values, the user
// id and the stage, either of which may be nil. The receiver owns each row.
//
// Stream returns when the input is exhausted, on a fatal read error, or when
// ctx is cancelled. It does not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- *transformer.Row) error
	Close() error
}

// Factory opens a Source for cfg.
type Factory func(ctx context.Context, cfg config.Source) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory, or a kind registered twice.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Source with the factory registered for cfg.Kind.
func New(ctx context.Context, cfg config.Source) (Source, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("source: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("source: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Columns returns the source column names for the user id and the stage.
func Columns(cfg config.Source) []string {
	user, stage := cfg.UserColumn, cfg.StageColumn
	if user == "" {
		user = "user_id"
	}
	if stage == "" {
		stage = "stage"
	}
	return []string{user, stage}
}

// Send delivers row on out, dropping it if ctx is cancelled first.
func Send(ctx context.Context, out chan<- *transformer.Row, row *transformer.Row) error {
	select {
	case out <- row:
		return nil
	case <-ctx.Done():
		row.Drop()
		return ctx.Err()
	}
}
