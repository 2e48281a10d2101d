package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/internal/config"
	"funnel/internal/transformer"
)

type staticSource struct {
	rows   [][]any
	closed bool
}

func (s *staticSource) Stream(ctx context.Context, out chan<- *transformer.Row) error {
	for i, v := range s.rows {
		r := transformer.GetRow(2)
		r.Line = i + 1
		copy(r.V, v)
		if err := Send(ctx, out, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *staticSource) Close() error {
	s.closed = true
	return nil
}

func init() {
	Register("static", func(_ context.Context, cfg config.Source) (Source, error) {
		return &staticSource{rows: [][]any{{"u1", cfg.Table}}}, nil
	})
}

func TestNew_DispatchesByKind(t *testing.T) {
	src, err := New(context.Background(), config.Source{Kind: "static", Table: "landing_page"})
	require.NoError(t, err)

	out := make(chan *transformer.Row, 1)
	require.NoError(t, src.Stream(context.Background(), out))
	r := <-out
	assert.Equal(t, []any{"u1", "landing_page"}, r.V)
	r.Free()
	require.NoError(t, src.Close())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), config.Source{})
	assert.EqualError(t, err, "source: missing kind")

	_, err = New(context.Background(), config.Source{Kind: "carrier_pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported kind=carrier_pigeon")
	assert.Contains(t, err.Error(), "static")
}

func TestRegister_Panics(t *testing.T) {
	f := func(context.Context, config.Source) (Source, error) { return nil, nil }

	assert.Panics(t, func() { Register("", f) })
	assert.Panics(t, func() { Register("nil_factory", nil) })
	assert.Panics(t, func() { Register("static", f) })
}

func TestSend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Send(ctx, make(chan *transformer.Row), transformer.GetRow(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColumnsAndSelectQuery(t *testing.T) {
	assert.Equal(t, []string{"user_id", "stage"}, Columns(config.Source{}))

	quote := func(s string) string { return "<" + s + ">" }
	cfg := config.Source{Table: "events", UserColumn: "visitor", StageColumn: "step"}
	assert.Equal(t, "SELECT <visitor>, <step> FROM <events>", SelectQuery(cfg, quote, quote))

	cfg.Options = config.Options{"query": "SELECT a, b FROM v WHERE day = current_date"}
	assert.Equal(t, "SELECT a, b FROM v WHERE day = current_date", SelectQuery(cfg, quote, quote))
}
