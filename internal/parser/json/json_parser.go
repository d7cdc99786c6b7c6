// Package json decodes JSON units into records.
//
// Accepted layouts:
//
//   - newline-delimited objects (NDJSON):
//     {"user_id":1,"user_name":"a"}
//     {"user_id":2,"user_name":"b"}
//   - a stream of (possibly pretty-printed) objects
//   - a single top-level array of objects
//
// Numbers are decoded with UseNumber and narrowed to int64 or float64.
// Nested objects and arrays are kept as JSON text.
package json

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"silverload/internal/schema"
	"silverload/pkg/records"
)

// Parser is stateless and safe for concurrent use.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse reads the whole unit. When the stream does not decode cleanly it is
// re-read line by line so that only the broken lines are rescued.
func (p *Parser) Parse(r io.Reader) ([]records.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("json parser: read: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		return decodeArray(trimmed), nil
	}
	if out, ok := decodeStream(trimmed); ok {
		return out, nil
	}
	return decodeLines(data)
}

func newDecoder(b []byte) *json.Decoder {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	return d
}

func decodeArray(b []byte) []records.Record {
	var elems []any
	if err := newDecoder(b).Decode(&elems); err != nil {
		return []records.Record{Rescue(string(b), 1, err)}
	}
	out := make([]records.Record, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			raw, _ := json.Marshal(e)
			out = append(out, Rescue(string(raw), i+1, fmt.Errorf("array element is %T, not an object", e)))
			continue
		}
		out = append(out, toRecord(obj))
	}
	return out
}

// decodeStream decodes consecutive top-level objects. It reports false on
// the first syntax error or non-object value.
func decodeStream(b []byte) ([]records.Record, bool) {
	d := newDecoder(b)
	var out []records.Record
	for {
		var obj map[string]any
		err := d.Decode(&obj)
		if err == io.EOF {
			return out, true
		}
		if err != nil || obj == nil {
			return nil, false
		}
		out = append(out, toRecord(obj))
	}
}

func decodeLines(b []byte) ([]records.Record, error) {
	var out []records.Record
	br := bufio.NewReader(bytes.NewReader(b))
	for line := 1; ; line++ {
		text, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(text)) > 0 {
			var obj map[string]any
			derr := newDecoder(text).Decode(&obj)
			switch {
			case derr != nil:
				out = append(out, Rescue(string(bytes.TrimRight(text, "\r\n")), line, derr))
			case obj == nil:
				out = append(out, Rescue(string(bytes.TrimRight(text, "\r\n")), line, fmt.Errorf("not a JSON object")))
			default:
				out = append(out, toRecord(obj))
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("json parser: line %d: %w", line, err)
		}
	}
}

func toRecord(obj map[string]any) records.Record {
	rec := make(records.Record, len(obj))
	for k, v := range obj {
		rec[k] = schema.Normalize(v)
	}
	return rec
}

// Rescue builds the record that stands in for an undecodable line.
func Rescue(raw string, line int, err error) records.Record {
	return records.Record{records.RescuedColumn: map[string]any{
		"_raw":   raw,
		"_line":  int64(line),
		"_error": err.Error(),
	}}
}
