// Package parser turns the bytes of one input unit into records.
//
// Parsers never fail a unit because of a bad record: a line or row that
// cannot be decoded becomes a record holding only records.RescuedColumn,
// whose value is a map with the raw text and the decode error. Only I/O
// failures are returned as errors.
package parser

import (
	"fmt"
	"io"

	"silverload/internal/config"
	pcsv "silverload/internal/parser/csv"
	pjson "silverload/internal/parser/json"
	"silverload/pkg/records"
)

// Parser decodes a whole unit.
type Parser interface {
	Parse(r io.Reader) ([]records.Record, error)
}

// New returns the parser for format ("json" or "csv").
func New(format string, opts config.Options) (Parser, error) {
	switch format {
	case "json", "":
		return pjson.NewParser(), nil
	case "csv":
		return pcsv.NewParser(pcsv.FromConfigOptions(opts)), nil
	}
	return nil, fmt.Errorf("parser: unknown format %q", format)
}
