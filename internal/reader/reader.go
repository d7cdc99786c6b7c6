// Package reader reads a dataset's pending input units into one batch,
// evolving the source schema as new columns appear.
package reader

import (
	"context"
	"sort"

	json "github.com/goccy/go-json"

	"silverload/internal/batch"
	"silverload/internal/datasource"
	"silverload/internal/errs"
	"silverload/internal/logging"
	"silverload/internal/parser"
	"silverload/internal/schema"
	"silverload/pkg/records"
)

// FilePathField names the rescue payload entry holding the unit id.
const FilePathField = "_file_path"

// Reader is the incremental reader of one dataset.
type Reader struct {
	dataset string
	source  datasource.Store
	parser  parser.Parser
}

// New returns a reader of dataset's units in source.
func New(dataset string, source datasource.Store, p parser.Parser) *Reader {
	return &Reader{dataset: dataset, source: source, parser: p}
}

// Read decodes units in order into a batch whose source schema is base
// evolved by what the units contain. New columns are appended as nullable,
// ordered by first appearance (columns first seen in the same record are
// appended by name). Int values landing in a Float column are widened; any
// other value that does not fit its column moves into the record's rescue
// marker, a JSON object that also names the unit it came from.
//
// No units yield an empty batch. A unit that cannot be opened or read fails
// the whole read with SourceUnreachable.
func (r *Reader) Read(ctx context.Context, base schema.Schema, units []datasource.Unit) (*batch.Batch, error) {
	b := &batch.Batch{
		Dataset:      r.dataset,
		SourceSchema: base.Clone(),
	}
	logger := logging.FromContext(ctx)

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := r.readUnit(ctx, u)
		if err != nil {
			return nil, err
		}
		rescued := 0
		for _, rec := range recs {
			if r.conform(&b.SourceSchema, base, rec, u.ID) {
				rescued++
			}
		}
		if rescued > 0 {
			logger.Warnw("rescued values", "unit", u.ID, "records", rescued)
		}
		b.Rescued += rescued
		b.Units = append(b.Units, u.ID)
		b.Records = append(b.Records, recs...)
		logger.Debugw("read unit", "unit", u.ID, "records", len(recs))
	}

	for _, rec := range b.Records {
		for _, c := range b.SourceSchema.Columns {
			v, ok := rec[c.Name]
			if !ok {
				rec[c.Name] = nil
				continue
			}
			if cv, fits := schema.Coerce(v, c.Type); fits {
				rec[c.Name] = cv
			}
		}
	}
	b.Schema = b.SourceSchema.Clone()
	return b, nil
}

func (r *Reader) readUnit(ctx context.Context, u datasource.Unit) ([]records.Record, error) {
	rc, err := r.source.Open(ctx, u.ID)
	if err != nil {
		return nil, errs.Wrapf(err, errs.SourceUnreachable, "open %s in %s", u.ID, r.source.Location())
	}
	defer rc.Close()

	recs, err := r.parser.Parse(rc)
	if err != nil {
		return nil, errs.Wrapf(err, errs.SourceUnreachable, "read %s in %s", u.ID, r.source.Location())
	}
	return recs, nil
}

// conform fits rec into s, growing s as needed, and reports whether rec
// carries a rescue marker afterwards. A column first seen in this read as Int
// becomes Float when a float arrives; columns of base keep their type.
func (r *Reader) conform(s *schema.Schema, base schema.Schema, rec records.Record, unit string) bool {
	rescued := map[string]any{}
	if prior, ok := rec[records.RescuedColumn]; ok && prior != nil {
		switch p := prior.(type) {
		case map[string]any:
			for k, v := range p {
				rescued[k] = v
			}
		default:
			rescued["_raw"] = p
		}
	}
	delete(rec, records.RescuedColumn)

	cols := make([]string, 0, len(rec))
	for k := range rec {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	for _, name := range cols {
		v := rec[name]
		t, ok := schema.TypeOf(v)
		if !ok {
			continue
		}
		have, known := s.Lookup(name)
		if !known {
			*s = s.With(schema.Column{Name: name, Type: t, Nullable: true})
			continue
		}
		if cv, fits := schema.Coerce(v, have.Type); fits {
			rec[name] = cv
			continue
		}
		if _, committed := base.Lookup(name); !committed && have.Type == schema.Int && t == schema.Float {
			have.Type = schema.Float
			*s = s.With(have)
			continue
		}
		rescued[name] = v
		rec[name] = nil
	}

	if len(rescued) == 0 {
		return false
	}
	rescued[FilePathField] = unit
	if _, known := s.Lookup(records.RescuedColumn); !known {
		*s = s.With(schema.Column{Name: records.RescuedColumn, Type: schema.String, Nullable: true})
	}
	rec[records.RescuedColumn] = encodeRescued(rescued)
	return true
}

func encodeRescued(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return `{"_error":` + quote(err.Error()) + `}`
	}
	return string(b)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
