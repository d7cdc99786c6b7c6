package config

import (
	"os"
	"path/filepath"
	"testing"

	"silverload/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectYAML = `
job: spotify_silver
checkpoint: {kind: bolt, path: ckpt.db}
defaults:
  destination: {kind: sqlite, dsn: silver.db}
  source: {format: json}
datasets:
  - name: DimUser
    source: {kind: file, path: bronze/DimUser}
    keys: [user_id]
    transform:
      - {op: uppercase, column: user_name}
      - {op: evict_rescued}
      - {op: dedupe_by_key, keys: [user_id]}
  - name: DimTrack
    source: {kind: file, path: bronze/DimTrack, format: csv, options: {infer_types: true, comma: ";"}}
    destination: {table: silver_track, batch_size: 50}
    keys: [track_id]
    transform:
      - {op: bucket, column: duration_sec, target: duration_flag, boundaries: [150, 300], labels: [Short, Medium, Long]}
      - {op: string_replace, column: track_name, from: "-", to: " "}
      - {op: dedupe_by_key, keys: [track_id], policy: keep-last}
`

func writeProject(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	p, issues, err := Load(writeProject(t, projectYAML))
	require.NoError(t, err)
	assert.False(t, HasErrors(issues))

	require.Len(t, p.Datasets, 2)
	user, ok := p.Dataset("DimUser")
	require.True(t, ok)
	assert.Equal(t, "dim_user", user.Destination.Table)
	assert.Equal(t, "sqlite", user.Destination.Kind)
	assert.Equal(t, "silver.db", user.Destination.DSN)
	assert.Equal(t, 500, user.Destination.BatchSize)
	assert.Equal(t, "json", user.Source.Format)

	track, _ := p.Dataset("DimTrack")
	assert.Equal(t, "silver_track", track.Destination.Table)
	assert.Equal(t, 50, track.Destination.BatchSize)
	assert.Equal(t, "csv", track.Source.Format)
	assert.True(t, track.Source.Options.Bool("infer_types", false))
	assert.Equal(t, ';', track.Source.Options.Rune("comma", ','))

	step := track.Transform[0]
	assert.Equal(t, OpBucket, step.Op)
	assert.Equal(t, []float64{150, 300}, step.Boundaries)
	assert.Equal(t, []string{"Short", "Medium", "Long"}, step.Labels)

	assert.Equal(t, []string{"DimUser", "DimTrack"}, p.Names())
	assert.Equal(t, "silverload", p.Checkpoint.Prefix)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, _, err := Load(writeProject(t, projectYAML+"\nsurprise: true\n"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConfigInvalid))
}

func TestLoadAcceptsJSON(t *testing.T) {
	t.Parallel()

	const js = `{
	  "job": "j",
	  "checkpoint": {"kind": "memory"},
	  "datasets": [{
	    "name": "DimDate",
	    "source": {"kind": "file", "path": "bronze/DimDate"},
	    "destination": {"kind": "sqlite", "dsn": "x.db"}
	  }]
	}`
	p, issues, err := Load(writeProject(t, js))
	require.NoError(t, err)
	assert.Equal(t, "dim_date", p.Datasets[0].Destination.Table)
	// memory checkpoints warn
	assert.True(t, hasIssue(issues, SeverityWarning, "checkpoint.kind", "memory"))
}

func TestLoadFailsOnValidationErrors(t *testing.T) {
	t.Parallel()

	_, issues, err := Load(writeProject(t, "job: x\ndatasets: []\n"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConfigInvalid))
	assert.True(t, hasIssue(issues, SeverityError, "datasets", "at least one"))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errs.Is(err, errs.ConfigInvalid))
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvMetricsBackend:  "prometheus",
		EnvPushgatewayURL:  "http://pg:9091",
		EnvCheckpointKind:  "redis",
		EnvCheckpointRedis: "localhost:6379",
	}
	var p Project
	ApplyEnv(&p, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.Equal(t, "prometheus", p.Metrics.Backend)
	assert.Equal(t, "http://pg:9091", p.Metrics.PushgatewayURL)
	assert.Equal(t, "redis", p.Checkpoint.Kind)
	assert.Equal(t, "localhost:6379", p.Checkpoint.Addr)
	assert.Empty(t, p.Metrics.DatadogAddr)
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"DimUser":    "dim_user",
		"FactStream": "fact_stream",
		"dim_user":   "dim_user",
		"HTTPServer": "http_server",
		"Dim User":   "dim_user",
		"Dim_User":   "dim_user",
		"Track2Play": "track2_play",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

func TestOptionsNullDecodesEmpty(t *testing.T) {
	t.Parallel()

	var o Options
	require.NoError(t, o.UnmarshalJSON([]byte("null")))
	assert.NotNil(t, o)
	assert.Equal(t, 7, Options{"n": float64(7)}.Int("n", 0))
	assert.Equal(t, "d", Options{"n": 1}.String("n", "d"))
}

func TestExampleProjectIsValid(t *testing.T) {
	t.Parallel()

	p, issues, err := Load(filepath.Join("..", "..", "configs", "spotify.yaml"))
	require.NoError(t, err)
	assert.False(t, HasErrors(issues), "issues: %+v", issues)
	assert.Equal(t, []string{"DimUser", "DimArtist", "DimTrack", "DimDate", "FactStream"}, p.Names())

	track, ok := p.Dataset("DimTrack")
	require.True(t, ok)
	assert.Equal(t, "dim_track", track.Destination.Table)
	assert.Equal(t, "sqlite", track.Destination.Kind)
	assert.Equal(t, []float64{150, 300}, track.Transform[0].Boundaries)
	for _, iss := range issues {
		assert.NotContains(t, iss.Message, "no dedupe_by_key", "%s", iss.Path)
	}
}
