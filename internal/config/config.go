// Package config defines the project configuration for silverload: one job,
// one checkpoint store and an ordered list of datasets, each with its source,
// destination table, business keys and transformation steps.
//
// Files may be JSON or YAML. Field names in Go mirror the keys used in
// configs/*.yaml.
//
// Example (trimmed):
//
//	job: spotify_silver
//	checkpoint: {kind: bolt, path: .silverload/checkpoints.db}
//	defaults:
//	  destination: {kind: sqlite, dsn: silver.db}
//	datasets:
//	  - name: DimUser
//	    source: {kind: file, path: bronze/DimUser, format: json}
//	    keys: [user_id]
//	    transform:
//	      - {op: uppercase, column: user_name}
//	      - {op: dedupe_by_key, keys: [user_id]}
package config

import (
	"encoding/json"
	"unicode"
)

// Project is the top-level object decoded from a project file.
type Project struct {
	// Job names the project. It labels metrics and log lines.
	Job string `json:"job"`

	// Checkpoint selects the store holding per-dataset checkpoints.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Defaults fill unset source and destination fields of every dataset.
	Defaults Defaults `json:"defaults"`

	Metrics Metrics `json:"metrics"`

	// Datasets are processed independently; order only matters for output.
	Datasets []Dataset `json:"datasets"`
}

// Checkpoint configures the checkpoint store.
type Checkpoint struct {
	// Kind is one of "memory", "bolt", "redis".
	Kind string `json:"kind"`

	// Path is the bbolt database file ("bolt").
	Path string `json:"path,omitempty"`

	// Addr, Password and DB address a Redis server ("redis").
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`

	// Prefix namespaces keys (redis) or names the bucket (bolt).
	Prefix string `json:"prefix,omitempty"`
}

// Defaults are merged into each dataset by ApplyDefaults.
type Defaults struct {
	Source      Source      `json:"source"`
	Destination Destination `json:"destination"`
}

// Metrics selects the metrics backend. Empty Backend means no metrics.
type Metrics struct {
	// Backend is "", "prometheus" or "datadog".
	Backend        string `json:"backend,omitempty"`
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	DatadogAddr    string `json:"datadog_addr,omitempty"`
}

// Dataset is one dimension or fact dataset.
type Dataset struct {
	// Name identifies the dataset (DimUser, FactStream, ...). It is the
	// checkpoint key.
	Name string `json:"name"`

	Source      Source      `json:"source"`
	Destination Destination `json:"destination"`

	// Keys is the business key. When set, commits upsert on it so a key
	// appears at most once in the destination table.
	Keys []string `json:"keys,omitempty"`

	// MaxUnitsPerRun bounds how many input units go into one committed batch.
	// Zero means the whole backlog in one batch.
	MaxUnitsPerRun int `json:"max_units_per_run,omitempty"`

	// Transform lists the ordered transformation steps.
	Transform []Step `json:"transform,omitempty"`
}

// Source locates a dataset's input units.
type Source struct {
	// Kind is "file" or "s3".
	Kind string `json:"kind,omitempty"`

	// Path is the directory for "file" sources.
	Path string `json:"path,omitempty"`

	// Bucket, Prefix, Region and Endpoint address "s3" sources. Endpoint is
	// only needed for S3-compatible stores.
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Format is "json" (NDJSON or array) or "csv".
	Format string `json:"format,omitempty"`

	// Pattern is an optional glob matched against unit base names.
	Pattern string `json:"pattern,omitempty"`

	// Options is interpreted by the parser. For CSV:
	//   comma (string), infer_types (bool)
	Options Options `json:"options,omitempty"`
}

// Destination names the table a dataset commits into.
type Destination struct {
	// Kind selects the storage backend: sqlite, postgres, mysql, mssql.
	Kind string `json:"kind,omitempty"`

	// DSN is the backend connection string.
	DSN string `json:"dsn,omitempty"`

	// Table defaults to the snake_case dataset name.
	Table string `json:"table,omitempty"`

	// BatchSize is the insert chunk size used inside a commit.
	BatchSize int `json:"batch_size,omitempty"`
}

// Step is a single transformation step. Op selects the operation; the other
// fields are interpreted per op:
//
//	drop_columns    columns
//	uppercase       column
//	string_replace  column, from, to, regex
//	bucket          column, target, boundaries, labels
//	dedupe_by_key   keys, policy
//	evict_rescued   (none)
type Step struct {
	Op         string    `json:"op"`
	Column     string    `json:"column,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
	Target     string    `json:"target,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Regex      bool      `json:"regex,omitempty"`
	Boundaries []float64 `json:"boundaries,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	Keys       []string  `json:"keys,omitempty"`
	Policy     string    `json:"policy,omitempty"`
}

// Transformation op names.
const (
	OpDropColumns   = "drop_columns"
	OpUppercase     = "uppercase"
	OpStringReplace = "string_replace"
	OpBucket        = "bucket"
	OpDedupeByKey   = "dedupe_by_key"
	OpEvictRescued  = "evict_rescued"
)

// Dataset returns the dataset called name.
func (p Project) Dataset(name string) (Dataset, bool) {
	for _, d := range p.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// Names returns the dataset names in declaration order.
func (p Project) Names() []string {
	out := make([]string, len(p.Datasets))
	for i, d := range p.Datasets {
		out[i] = d.Name
	}
	return out
}

// ApplyDefaults fills unset dataset fields from p.Defaults and built-in
// defaults. It is idempotent.
func (p *Project) ApplyDefaults() {
	if p.Checkpoint.Kind == "" {
		p.Checkpoint.Kind = "bolt"
	}
	if p.Checkpoint.Kind == "bolt" && p.Checkpoint.Path == "" {
		p.Checkpoint.Path = ".silverload/checkpoints.db"
	}
	if p.Checkpoint.Prefix == "" {
		p.Checkpoint.Prefix = "silverload"
	}
	for i := range p.Datasets {
		d := &p.Datasets[i]
		d.Source = mergeSource(d.Source, p.Defaults.Source)
		d.Destination = mergeDestination(d.Destination, p.Defaults.Destination)
		if d.Source.Kind == "" {
			d.Source.Kind = "file"
		}
		if d.Source.Format == "" {
			d.Source.Format = "json"
		}
		if d.Destination.Table == "" {
			d.Destination.Table = SnakeCase(d.Name)
		}
		if d.Destination.BatchSize <= 0 {
			d.Destination.BatchSize = 500
		}
	}
}

func mergeSource(s, def Source) Source {
	if s.Kind == "" {
		s.Kind = def.Kind
	}
	if s.Bucket == "" {
		s.Bucket = def.Bucket
	}
	if s.Region == "" {
		s.Region = def.Region
	}
	if s.Endpoint == "" {
		s.Endpoint = def.Endpoint
	}
	if s.Format == "" {
		s.Format = def.Format
	}
	if s.Pattern == "" {
		s.Pattern = def.Pattern
	}
	if len(s.Options) == 0 && len(def.Options) > 0 {
		s.Options = def.Options
	}
	return s
}

func mergeDestination(d, def Destination) Destination {
	if d.Kind == "" {
		d.Kind = def.Kind
	}
	if d.DSN == "" {
		d.DSN = def.DSN
	}
	if d.BatchSize == 0 {
		d.BatchSize = def.BatchSize
	}
	return d
}

// SnakeCase turns "DimUser" into "dim_user" and "FactStream" into "fact_stream".
func SnakeCase(name string) string {
	rs := []rune(name)
	out := make([]rune, 0, len(rs)+4)
	sep := func() {
		if len(out) > 0 && out[len(out)-1] != '_' {
			out = append(out, '_')
		}
	}
	for i, r := range rs {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && (!unicode.IsUpper(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]))) {
				sep()
			}
			out = append(out, unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out = append(out, r)
		default:
			sep()
		}
	}
	return string(out)
}

// Options is a small helper to fetch typed values from free-form option maps.
// It performs only minimal type coercion and returns the provided default
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so float64 is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. Used for single-character settings such as a CSV comma.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON makes a missing or null options object decode to a non-nil,
// empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
