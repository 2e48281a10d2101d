// Package json streams JSON event documents into pooled rows.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"funnel/internal/config"
	"funnel/internal/transformer"
)

// StreamJSONRows decodes r one object at a time and sends a row per object on
// out, with values aligned to columns.
//
// Accepted layouts:
//   - a root array of objects: [{"user_id":1,"stage":"landing_page"}, ...]
//   - an envelope object whose first array-valued field (or the field named by
//     the records_field option) holds the objects: {"events":[...]}
//   - a single object, optionally followed by more objects (JSON lines)
//
// With the lines option set the input is read strictly as JSON lines.
// header_map maps source keys to column names. Numbers are kept as
// json.Number.
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	opts config.Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	s := &streamer{
		ctx:     ctx,
		dec:     dec,
		out:     out,
		columns: columns,
		keys:    sourceKeys(columns, opts.StringMap("header_map")),
		onErr:   onParseErr,
	}

	if opts.Bool("lines", false) {
		return s.streamTrailing()
	}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		s.reportErr(err)
		return fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := s.streamArray(); err != nil {
			return err
		}
		if err := s.expect(json.Delim(']')); err != nil {
			return err
		}
	case json.Delim('{'):
		single, err := s.streamEnvelope(opts.String("records_field", ""))
		if err != nil {
			return err
		}
		if err := s.expect(json.Delim('}')); err != nil {
			return err
		}
		if single != nil {
			if err := s.emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	return s.streamTrailing()
}

type streamer struct {
	ctx     context.Context
	dec     *json.Decoder
	out     chan<- *transformer.Row
	columns []string
	keys    [][]string
	onErr   func(line int, err error)
	line    int
}

func (s *streamer) reportErr(err error) {
	if s.onErr != nil {
		s.onErr(s.line+1, err)
	}
}

func (s *streamer) emit(obj map[string]any) error {
	s.line++

	row := transformer.GetRow(len(s.columns))
	row.Line = s.line
	for i, candidates := range s.keys {
		for _, k := range candidates {
			if v, ok := obj[k]; ok && v != nil {
				row.V[i] = v
				break
			}
		}
	}

	select {
	case s.out <- row:
		return nil
	case <-s.ctx.Done():
		row.Drop()
		return s.ctx.Err()
	}
}

func (s *streamer) expect(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// streamArray emits every object of the array whose '[' was just consumed.
// null elements are skipped; any other non-object element is an error.
func (s *streamer) streamArray() error {
	for s.dec.More() {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		var raw any
		if err := s.dec.Decode(&raw); err != nil {
			s.reportErr(err)
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("json: array element is %T, want object", raw)
			s.reportErr(err)
			return err
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// streamEnvelope walks the root object whose '{' was just consumed.
//
// The first array field matching field (any array when field is empty) is
// streamed as records and the rest of the object is skipped; nil is returned.
// Without such a field the object's scalar members are returned as a single
// record.
func (s *streamer) streamEnvelope(field string) (map[string]any, error) {
	single := make(map[string]any)
	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			s.reportErr(err)
			return nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, _ := keyTok.(string)

		valTok, err := s.dec.Token()
		if err != nil {
			s.reportErr(err)
			return nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}

		d, isDelim := valTok.(json.Delim)
		if !isDelim {
			single[key] = valTok
			continue
		}
		if d != '[' || (field != "" && field != key) {
			if err := s.skipFrom(); err != nil {
				return nil, err
			}
			continue
		}

		if err := s.streamArray(); err != nil {
			return nil, err
		}
		if err := s.expect(json.Delim(']')); err != nil {
			return nil, err
		}
		for s.dec.More() {
			if _, err := s.dec.Token(); err != nil {
				return nil, fmt.Errorf("json: skip envelope key: %w", err)
			}
			if err := s.skipValue(); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return single, nil
}

// skipValue consumes the next complete value.
func (s *streamer) skipValue() error {
	tok, err := s.dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		return s.skipFrom()
	}
	return nil
}

// skipFrom consumes tokens up to the delimiter closing the one just read.
func (s *streamer) skipFrom() error {
	for depth := 1; depth > 0; {
		tok, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip value: %w", err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	return nil
}

// streamTrailing emits any further top-level objects (JSON lines).
func (s *streamer) streamTrailing() error {
	for {
		var obj map[string]any
		if err := s.dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.reportErr(err)
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj == nil {
			continue
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
}

// sourceKeys lists, per column, the object keys that may hold its value:
// the column name itself, then any header_map source key mapped onto it.
func sourceKeys(columns []string, headerMap map[string]string) [][]string {
	keys := make([][]string, len(columns))
	for i, col := range columns {
		keys[i] = []string{col}
		for src, dst := range headerMap {
			if dst == col && src != col {
				keys[i] = append(keys[i], src)
			}
		}
	}
	return keys
}
