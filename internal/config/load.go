package config

import (
	"fmt"
	"os"
	"strings"

	"silverload/internal/errs"

	"sigs.k8s.io/yaml"
)

// Environment variables that override file settings.
const (
	EnvMetricsBackend  = "SILVERLOAD_METRICS_BACKEND"
	EnvPushgatewayURL  = "SILVERLOAD_PUSHGATEWAY_URL"
	EnvDatadogAddr     = "SILVERLOAD_DATADOG_ADDR"
	EnvCheckpointKind  = "SILVERLOAD_CHECKPOINT_KIND"
	EnvCheckpointPath  = "SILVERLOAD_CHECKPOINT_PATH"
	EnvCheckpointRedis = "SILVERLOAD_REDIS_ADDR"
)

// Decode parses a JSON or YAML document into a Project. Unknown fields are
// rejected. Defaults are not applied.
func Decode(data []byte) (Project, error) {
	var p Project
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return Project{}, errs.Wrap(err, errs.ConfigInvalid, "decode project")
	}
	return p, nil
}

// Load reads the project file at path, applies environment overrides and
// defaults, and validates the result. Warnings are returned alongside a
// valid project; any error-severity issue fails with ConfigInvalid.
func Load(path string) (Project, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, nil, errs.Wrapf(err, errs.ConfigInvalid, "read %s", path)
	}
	p, err := Decode(data)
	if err != nil {
		return Project{}, nil, err
	}
	ApplyEnv(&p, os.LookupEnv)
	p.ApplyDefaults()

	issues := ValidateProject(p)
	if HasErrors(issues) {
		msgs := make([]string, 0, len(issues))
		for _, iss := range issues {
			if iss.Severity == SeverityError {
				msgs = append(msgs, iss.Path+": "+iss.Message)
			}
		}
		return p, issues, errs.Errorf(errs.ConfigInvalid, "%s: %s", path, strings.Join(msgs, "; "))
	}
	return p, issues, nil
}

// ApplyEnv overlays environment settings onto p. lookup is os.LookupEnv in
// production.
func ApplyEnv(p *Project, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&p.Metrics.Backend, EnvMetricsBackend)
	set(&p.Metrics.PushgatewayURL, EnvPushgatewayURL)
	set(&p.Metrics.DatadogAddr, EnvDatadogAddr)
	set(&p.Checkpoint.Kind, EnvCheckpointKind)
	set(&p.Checkpoint.Path, EnvCheckpointPath)
	set(&p.Checkpoint.Addr, EnvCheckpointRedis)
}

// Summary is a one-line description of a dataset for logs and CLI output.
func (d Dataset) Summary() string {
	src := d.Source.Path
	if d.Source.Kind == "s3" {
		src = "s3://" + d.Source.Bucket + "/" + d.Source.Prefix
	}
	return fmt.Sprintf("%s: %s (%s) -> %s:%s", d.Name, src, d.Source.Format, d.Destination.Kind, d.Destination.Table)
}
