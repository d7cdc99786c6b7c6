package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"silverload/internal/schema"

	"github.com/goccy/go-json"
)

// FromSQL converts a scanned driver value back to the record value of a
// column of type t. Drivers disagree on what they return (MySQL's text
// protocol hands back []byte for everything, SQLite stores booleans as
// integers), so every backend funnels reads through here.
func FromSQL(v any, t schema.Type) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(x)
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case int16:
		v = int64(x)
	case int8:
		v = int64(x)
	case float32:
		v = float64(x)
	case time.Time:
		v = x.UTC().Format(time.RFC3339Nano)
	}

	switch t {
	case schema.Bool:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b
			}
		}
	case schema.Int:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			if x == math.Trunc(x) {
				return int64(x)
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return i
			}
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		}
	case schema.Float:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	case schema.String:
		if s, ok := v.(string); ok {
			return s
		}
	}
	return schema.Normalize(v)
}

// Marker is the column layout of a commit marker row.
type Marker struct {
	Table        string
	Version      int64
	BatchID      string
	Units        string
	SourceSchema string
	TableSchema  string
	Rows         int64
	CommittedAt  int64
}

// MarkerColumns lists the marker table columns in Marker field order.
var MarkerColumns = []string{
	"table_name", "version", "batch_id", "units",
	"source_schema", "table_schema", "row_count", "committed_at",
}

// Values returns m in MarkerColumns order.
func (m Marker) Values() []any {
	return []any{m.Table, m.Version, m.BatchID, m.Units, m.SourceSchema, m.TableSchema, m.Rows, m.CommittedAt}
}

// EncodeMarker renders info as a marker row.
func EncodeMarker(info CommitInfo) (Marker, error) {
	units, err := json.Marshal(nonNil(info.Units))
	if err != nil {
		return Marker{}, fmt.Errorf("encode units: %w", err)
	}
	src, err := json.Marshal(info.SourceSchema)
	if err != nil {
		return Marker{}, fmt.Errorf("encode source schema: %w", err)
	}
	tbl, err := json.Marshal(info.TableSchema)
	if err != nil {
		return Marker{}, fmt.Errorf("encode table schema: %w", err)
	}
	return Marker{
		Table:        info.Table,
		Version:      info.Version,
		BatchID:      info.BatchID,
		Units:        string(units),
		SourceSchema: string(src),
		TableSchema:  string(tbl),
		Rows:         info.Rows,
		CommittedAt:  info.CommittedAt.UnixNano(),
	}, nil
}

// Decode parses a marker row.
func (m Marker) Decode() (CommitInfo, error) {
	info := CommitInfo{
		Table:       m.Table,
		Version:     m.Version,
		BatchID:     m.BatchID,
		Rows:        m.Rows,
		CommittedAt: time.Unix(0, m.CommittedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(m.Units), &info.Units); err != nil {
		return CommitInfo{}, fmt.Errorf("marker %s@%d: units: %w", m.Table, m.Version, err)
	}
	if err := json.Unmarshal([]byte(m.SourceSchema), &info.SourceSchema); err != nil {
		return CommitInfo{}, fmt.Errorf("marker %s@%d: source schema: %w", m.Table, m.Version, err)
	}
	if err := json.Unmarshal([]byte(m.TableSchema), &info.TableSchema); err != nil {
		return CommitInfo{}, fmt.Errorf("marker %s@%d: table schema: %w", m.Table, m.Version, err)
	}
	return info, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
