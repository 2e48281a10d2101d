// Package xlsx streams worksheet rows from Excel workbooks.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"funnel/internal/config"
	"funnel/internal/parser/csv"
	"funnel/internal/transformer"
)

// StreamXLSXRows reads the sheet named by the sheet option (default: the
// first sheet) and sends one row per non-empty worksheet row on out.
// The first row is the header; columns are matched the same way as CSV
// headers, including header_map.
func StreamXLSXRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	opts config.Options,
	out chan<- *transformer.Row,
) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("xlsx: open: %w", err)
	}
	defer f.Close()

	sheet := opts.String("sheet", "")
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return fmt.Errorf("xlsx: workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var (
		line  int
		colIx []int
	)
	for rows.Next() {
		line++
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("xlsx: row %d: %w", line, err)
		}

		if colIx == nil {
			colIx, err = headerIndex(cells, columns, opts.StringMap("header_map"))
			if err != nil {
				return err
			}
			continue
		}
		if isBlank(cells) {
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line
		for t, si := range colIx {
			if si < len(cells) {
				if v := strings.TrimSpace(cells[si]); v != "" {
					row.V[t] = v
				}
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	if colIx == nil {
		return fmt.Errorf("xlsx: sheet %q is empty, expected a header", sheet)
	}
	return rows.Error()
}

func headerIndex(hdr []string, columns []string, headerMap map[string]string) ([]int, error) {
	byName := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		}
		h = csv.NormalizeHeader(h)
		if _, dup := byName[h]; !dup {
			byName[h] = i
		}
	}

	ix := make([]int, len(columns))
	for t, col := range columns {
		i, ok := byName[csv.NormalizeHeader(col)]
		if !ok {
			return nil, fmt.Errorf("xlsx: header has no column %q", col)
		}
		ix[t] = i
	}
	return ix, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
