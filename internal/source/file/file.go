// Package file is the source backend for local CSV, TSV, JSON, JSON lines and
// XLSX files.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"

	log "github.com/sirupsen/logrus"

	"funnel/internal/config"
	"funnel/internal/metrics"
	csvparser "funnel/internal/parser/csv"
	jsonparser "funnel/internal/parser/json"
	xlsxparser "funnel/internal/parser/xlsx"
	"funnel/internal/source"
	"funnel/internal/transformer"
)

func init() {
	source.Register("file", Open)
}

// Source reads one file. The file is opened by Open so a missing input is
// reported before any work starts.
type Source struct {
	path    string
	format  string
	f       *os.File
	columns []string
	opts    config.Options
}

// Open opens cfg.Path. A missing file yields an error wrapping
// source.ErrInputNotFound. The format comes from cfg.Format, or the file
// extension when empty; unknown extensions are read as CSV.
func Open(_ context.Context, cfg config.Source) (source.Source, error) {
	st, err := os.Stat(cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", source.ErrInputNotFound, cfg.Path)
		}
		return nil, fmt.Errorf("source: stat %s: %w", cfg.Path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("source: %s is a directory", cfg.Path)
	}

	format := cfg.Format
	if format == "" {
		format, _ = config.FormatFromPath(cfg.Path)
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", cfg.Path, err)
	}

	opts := maps.Clone(cfg.Options)
	if opts == nil {
		opts = config.Options{}
	}
	switch format {
	case "tsv":
		if _, ok := opts["comma"]; !ok {
			opts["comma"] = "tab"
		}
	case "jsonl":
		opts["lines"] = true
	}

	return &Source{
		path:    cfg.Path,
		format:  format,
		f:       f,
		columns: source.Columns(cfg),
		opts:    opts,
	}, nil
}

// Stream implements source.Source.
func (s *Source) Stream(ctx context.Context, out chan<- *transformer.Row) error {
	switch s.format {
	case "csv", "tsv":
		return csvparser.StreamCSVRows(ctx, io.NopCloser(s.f), s.columns, s.opts, out, s.skip)
	case "json", "jsonl":
		return jsonparser.StreamJSONRows(ctx, s.f, s.columns, s.opts, out, s.skip)
	case "xlsx":
		return xlsxparser.StreamXLSXRows(ctx, s.f, s.columns, s.opts, out)
	default:
		return fmt.Errorf("source: unsupported file format %q", s.format)
	}
}

func (s *Source) skip(line int, err error) {
	log.WithFields(log.Fields{"path": s.path, "line": line}).Warnf("skipping record: %v", err)
	metrics.RecordRecords("malformed", 1)
}

// Close implements source.Source.
func (s *Source) Close() error {
	return s.f.Close()
}

// Format reports the resolved input format.
func (s *Source) Format() string { return s.format }
