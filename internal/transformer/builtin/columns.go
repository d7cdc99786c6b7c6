package builtin

import (
	"silverload/internal/schema"
	"silverload/pkg/records"
)

// DropColumns removes the named columns. Absent columns are ignored.
type DropColumns struct {
	Columns []string
}

func (d DropColumns) Apply(in []records.Record) []records.Record {
	for _, r := range in {
		for _, c := range d.Columns {
			delete(r, c)
		}
	}
	return in
}

func (d DropColumns) MapSchema(s schema.Schema) schema.Schema {
	return s.Without(d.Columns...)
}

// EvictRescued removes the rescue marker column.
type EvictRescued struct{}

func (EvictRescued) Apply(in []records.Record) []records.Record {
	return DropColumns{Columns: []string{records.RescuedColumn}}.Apply(in)
}

func (EvictRescued) MapSchema(s schema.Schema) schema.Schema {
	return s.Without(records.RescuedColumn)
}
