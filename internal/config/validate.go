// This file holds the static validator for Project values. It returns a list
// of issues (errors and warnings) that the CLI prints and Load turns into a
// ConfigInvalid error.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "datasets[2].transform[0].labels").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be used as an error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var (
	knownCheckpoints  = []string{"memory", "bolt", "redis"}
	knownSources      = []string{"file", "s3"}
	knownFormats      = []string{"json", "csv"}
	knownDestinations = []string{"sqlite", "postgres", "mysql", "mssql"}
	knownPolicies     = []string{"", "deterministic", "keep-first", "keep-last", "most-complete"}
	knownMetrics      = []string{"", "prometheus", "datadog"}
)

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateProject performs static validation of a Project. It does not
// mutate p. Run ApplyDefaults first to validate the effective configuration.
func ValidateProject(p Project) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels metrics and log lines")
	}

	switch cp := p.Checkpoint; {
	case !oneOf(cp.Kind, knownCheckpoints):
		add(SeverityError, "checkpoint.kind", "unknown checkpoint kind %q (want one of %s)", cp.Kind, strings.Join(knownCheckpoints, ", "))
	case cp.Kind == "bolt" && strings.TrimSpace(cp.Path) == "":
		add(SeverityError, "checkpoint.path", "bolt checkpoint store requires a path")
	case cp.Kind == "redis" && strings.TrimSpace(cp.Addr) == "":
		add(SeverityError, "checkpoint.addr", "redis checkpoint store requires an addr")
	case cp.Kind == "memory":
		add(SeverityWarning, "checkpoint.kind", "memory checkpoints are lost on exit; every run re-reads the whole source")
	}

	if !oneOf(p.Metrics.Backend, knownMetrics) {
		add(SeverityError, "metrics.backend", "unknown metrics backend %q", p.Metrics.Backend)
	}

	if len(p.Datasets) == 0 {
		add(SeverityError, "datasets", "at least one dataset is required")
	}
	seen := map[string]int{}
	tables := map[string]string{}
	for i, d := range p.Datasets {
		base := fmt.Sprintf("datasets[%d]", i)
		if strings.TrimSpace(d.Name) == "" {
			add(SeverityError, base+".name", "dataset name must not be empty")
		} else if j, dup := seen[d.Name]; dup {
			add(SeverityError, base+".name", "duplicate dataset name %q (also datasets[%d])", d.Name, j)
		} else {
			seen[d.Name] = i
		}
		issues = append(issues, validateSource(base+".source", d.Source)...)
		issues = append(issues, validateDestination(base+".destination", d.Destination)...)

		tkey := d.Destination.Kind + "|" + d.Destination.DSN + "|" + d.Destination.Table
		if other, dup := tables[tkey]; dup && d.Destination.Table != "" {
			add(SeverityError, base+".destination.table", "table %q is already the destination of %s", d.Destination.Table, other)
		} else {
			tables[tkey] = d.Name
		}

		for k, key := range d.Keys {
			if strings.TrimSpace(key) == "" {
				add(SeverityError, fmt.Sprintf("%s.keys[%d]", base, k), "key column must not be empty")
			}
		}
		if d.MaxUnitsPerRun < 0 {
			add(SeverityError, base+".max_units_per_run", "max_units_per_run must not be negative")
		}
		issues = append(issues, validateSteps(base, d)...)
	}
	return issues
}

func validateSource(path string, s Source) []Issue {
	var issues []Issue
	if !oneOf(s.Kind, knownSources) {
		issues = append(issues, Issue{SeverityError, path + ".kind", fmt.Sprintf("unknown source kind %q (want one of %s)", s.Kind, strings.Join(knownSources, ", "))})
	}
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, Issue{SeverityError, path + ".path", "file source requires a non-empty path"})
		}
	case "s3":
		if strings.TrimSpace(s.Bucket) == "" {
			issues = append(issues, Issue{SeverityError, path + ".bucket", "s3 source requires a bucket"})
		}
		if strings.TrimSpace(s.Region) == "" && strings.TrimSpace(s.Endpoint) == "" {
			issues = append(issues, Issue{SeverityWarning, path + ".region", "s3 source has no region; the SDK default chain decides"})
		}
	}
	if !oneOf(s.Format, knownFormats) {
		issues = append(issues, Issue{SeverityError, path + ".format", fmt.Sprintf("unknown format %q (want one of %s)", s.Format, strings.Join(knownFormats, ", "))})
	}
	return issues
}

func validateDestination(path string, d Destination) []Issue {
	var issues []Issue
	if !oneOf(d.Kind, knownDestinations) {
		issues = append(issues, Issue{SeverityError, path + ".kind", fmt.Sprintf("unknown destination kind %q (want one of %s)", d.Kind, strings.Join(knownDestinations, ", "))})
	}
	if strings.TrimSpace(d.DSN) == "" {
		issues = append(issues, Issue{SeverityError, path + ".dsn", "destination dsn must not be empty"})
	}
	if !identRe.MatchString(d.Table) {
		issues = append(issues, Issue{SeverityError, path + ".table", fmt.Sprintf("table %q is not a plain [schema.]identifier", d.Table)})
	}
	return issues
}

func validateSteps(base string, d Dataset) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	dedupe := false
	for i, s := range d.Transform {
		path := fmt.Sprintf("%s.transform[%d]", base, i)
		switch s.Op {
		case OpDropColumns:
			if len(s.Columns) == 0 {
				add(SeverityWarning, path+".columns", "drop_columns without columns does nothing")
			}
		case OpUppercase:
			if s.Column == "" {
				add(SeverityError, path+".column", "uppercase requires a column")
			}
		case OpStringReplace:
			if s.Column == "" {
				add(SeverityError, path+".column", "string_replace requires a column")
			}
			if s.From == "" {
				add(SeverityError, path+".from", "string_replace requires a non-empty from")
			} else if s.Regex {
				if _, err := regexp.Compile(s.From); err != nil {
					add(SeverityError, path+".from", "invalid regular expression: %v", err)
				}
			}
		case OpBucket:
			if s.Column == "" {
				add(SeverityError, path+".column", "bucket requires a column")
			}
			if len(s.Boundaries) == 0 {
				add(SeverityError, path+".boundaries", "bucket requires at least one boundary")
			}
			if !sort.Float64sAreSorted(s.Boundaries) || hasDuplicate(s.Boundaries) {
				add(SeverityError, path+".boundaries", "boundaries must be strictly increasing")
			}
			if len(s.Labels) != len(s.Boundaries)+1 {
				add(SeverityError, path+".labels", "bucket needs %d labels for %d boundaries, got %d", len(s.Boundaries)+1, len(s.Boundaries), len(s.Labels))
			}
		case OpDedupeByKey:
			dedupe = true
			if len(s.Keys) == 0 && len(d.Keys) == 0 {
				add(SeverityError, path+".keys", "dedupe_by_key requires keys (on the step or the dataset)")
			}
			if !oneOf(s.Policy, knownPolicies) {
				add(SeverityError, path+".policy", "unknown dedupe policy %q", s.Policy)
			}
			if len(s.Keys) > 0 && len(d.Keys) > 0 && !sameSet(s.Keys, d.Keys) {
				add(SeverityWarning, path+".keys", "dedupe keys %v differ from dataset keys %v", s.Keys, d.Keys)
			}
		case OpEvictRescued:
		case "":
			add(SeverityError, path+".op", "op must not be empty")
		default:
			add(SeverityError, path+".op", "unknown op %q", s.Op)
		}
	}
	if len(d.Keys) > 0 && !dedupe {
		add(SeverityWarning, base+".transform", "dataset has keys but no dedupe_by_key step; rows are deduplicated on the keys with the deterministic policy")
	}
	return issues
}

func hasDuplicate(fs []float64) bool {
	for i := 1; i < len(fs); i++ {
		if fs[i] == fs[i-1] {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[string]int, len(a))
	for _, s := range a {
		m[s]++
	}
	for _, s := range b {
		if m[s] == 0 {
			return false
		}
		m[s]--
	}
	return true
}
