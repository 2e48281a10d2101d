// Package csv streams delimited text files into pooled rows.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"funnel/internal/config"
	"funnel/internal/transformer"
)

// StreamCSVRows reads delimited records from src and sends one row per record
// on out, with values aligned to columns.
//
// Options:
//   - has_header (default true): map columns by header name. Header names are
//     trimmed, stripped of a UTF-8 BOM, lower-cased with spaces replaced by
//     underscores, then passed through header_map.
//   - comma (default ','), lazy_quotes, fields_per_record, trim_space (default true).
//   - encoding: a WHATWG label such as "windows-1250" or "latin1"; the input is
//     decoded to UTF-8 before parsing.
//
// Record-level read errors are passed to onErr and the record is skipped.
// A missing header or a header without one of the columns is fatal.
//
// On ctx cancellation the in-flight row is dropped, not re-pooled.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := decodeReader(src, opt.String("encoding", ""))
	if err != nil {
		return err
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = opt.Int("fields_per_record", -1)
	trim := opt.Bool("trim_space", true)

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	colIx := make([]int, len(columns))
	if opt.Bool("has_header", true) {
		hdr, err := readRec()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("csv: empty input, expected a header")
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		colIx, err = mapHeader(hdr, columns, opt.StringMap("header_map"))
		if err != nil {
			return err
		}
	} else {
		for i := range colIx {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line
		for t, si := range colIx {
			if si >= len(rec) {
				continue
			}
			v := rec[si]
			if trim && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

func mapHeader(hdr []string, columns []string, headerMap map[string]string) ([]int, error) {
	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		} else {
			h = NormalizeHeader(h)
		}
		if _, dup := srcToIdx[h]; !dup {
			srcToIdx[h] = i
		}
	}

	colIx := make([]int, len(columns))
	for t, target := range columns {
		si, ok := srcToIdx[NormalizeHeader(target)]
		if !ok {
			return nil, fmt.Errorf("csv: header has no column %q (have %s)", target, strings.Join(hdr, ","))
		}
		colIx[t] = si
	}
	return colIx, nil
}

// NormalizeHeader lower-cases h and replaces spaces with underscores.
func NormalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

func decodeReader(r io.Reader, label string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(r), nil
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
