// Package csv decodes CSV units into records. The first row is the header.
// Rows whose width differs from the header are rescued rather than dropped.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"silverload/internal/config"
	"silverload/internal/schema"
	"silverload/pkg/records"
)

// Options configures the CSV parser. Zero values are sensible defaults.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// InferTypes narrows values that parse cleanly to int64, float64 or
	// bool. Otherwise every value is a string.
	InferTypes bool
}

// FromConfigOptions reads comma, trim_space and infer_types.
func FromConfigOptions(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		TrimSpace:  o.Bool("trim_space", false),
		InferTypes: o.Bool("infer_types", false),
	}
}

// Parser parses CSV input according to Options. It is safe for concurrent
// use.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Parse reads every row of r. Empty fields become nil. An empty unit yields
// no records.
func (p *Parser) Parse(r io.Reader) ([]records.Record, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1

	h, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	headers := normalizeHeaders(h)

	var out []records.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			out = append(out, rescue(strings.Join(row, string(cr.Comma)), pe.Line, err))
			continue
		}
		if len(row) != len(headers) {
			line, _ := cr.FieldPos(0)
			out = append(out, rescue(strings.Join(row, string(cr.Comma)), line,
				fmt.Errorf("expected %d fields, got %d", len(headers), len(row))))
			continue
		}

		rec := make(records.Record, len(row))
		for i, val := range row {
			if p.opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			rec[headers[i]] = p.value(val)
		}
		out = append(out, rec)
	}
}

func (p *Parser) value(s string) any {
	if s == "" {
		return nil
	}
	if p.opt.InferTypes {
		return schema.ParseScalar(s)
	}
	return s
}

func rescue(raw string, line int, err error) records.Record {
	return records.Record{records.RescuedColumn: map[string]any{
		"_raw":   raw,
		"_line":  int64(line),
		"_error": err.Error(),
	}}
}

// normalizeHeaders trims header cells, strips a BOM from the first one and
// names blank or repeated headers "_c<index>" so every column is addressable.
func normalizeHeaders(h []string) []string {
	h = StripHeaderBOM(h)
	seen := make(map[string]bool, len(h))
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if c == "" || seen[c] {
			c = fmt.Sprintf("_c%d", i)
		}
		seen[c] = true
		res[i] = c
	}
	return res
}
