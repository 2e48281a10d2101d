// Package transformer holds the pooled row type that flows from a source's
// parser to the funnel aggregator.
package transformer

import "sync"

// Row is a pooled positional record. For funnel sources V is always
// [user_id, stage]; values keep whatever type the backend produced
// (string from CSV, json.Number from JSON, int64 from SQL, ...).
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time; sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free once it no longer references r.V.
//   - Producers unwinding on ctx cancellation call Drop instead, so a row the
//     consumer may still be reading is never handed out again.
type Row struct {
	V    []any
	Line int // 1-based source record number, 0 if unknown
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == colCount and all values nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
