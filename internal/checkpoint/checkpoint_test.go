package checkpoint

import (
	"testing"

	"silverload/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAppendsNewUnitsOnly(t *testing.T) {
	t.Parallel()

	c := Empty("DimUser")
	n1 := c.Next([]string{"b", "a"})
	assert.Equal(t, int64(1), n1.Revision)
	assert.Equal(t, []string{"b", "a"}, n1.Units)
	assert.Equal(t, []string{"a", "b"}, n1.SortedUnits())

	n2 := n1.Next([]string{"a", "c", "c"})
	assert.Equal(t, int64(2), n2.Revision)
	assert.Equal(t, []string{"b", "a", "c"}, n2.Units)

	// n1 untouched
	assert.Equal(t, []string{"b", "a"}, n1.Units)
	assert.False(t, n1.Consumed("c"))
	assert.True(t, n2.Consumed("c"))
	assert.Empty(t, c.Units)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	c := Empty("DimTrack").Next([]string{"t1.json"})
	c.Schema = schema.Schema{Columns: []schema.Column{
		{Name: "track_id", Type: schema.Int},
		{Name: "duration_sec", Type: schema.Float, Nullable: true},
	}}
	c.SchemaVersion = c.Schema.Fingerprint()
	c.TableVersion = 3
	c.LastBatchID = "abc"

	b, err := Encode(c)
	require.NoError(t, err)

	got, err := Decode("DimTrack", b)
	require.NoError(t, err)
	assert.Equal(t, c.Units, got.Units)
	assert.Equal(t, c.Schema, got.Schema)
	assert.Equal(t, c.SchemaVersion, got.SchemaVersion)
	assert.Equal(t, int64(3), got.TableVersion)
	assert.Equal(t, "abc", got.LastBatchID)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"garbage":        "\x00\x01",
		"wrong dataset":  `{"dataset":"DimArtist","revision":1}`,
		"zero revision":  `{"dataset":"DimTrack","revision":0}`,
		"negative table": `{"dataset":"DimTrack","revision":1,"table_version":-1}`,
		"bad type":       `{"dataset":"DimTrack","revision":1,"schema":{"columns":[{"name":"x","type":"blob"}]}}`,
	}
	for name, raw := range cases {
		_, err := Decode("DimTrack", []byte(raw))
		assert.ErrorIs(t, err, ErrCorrupt, name)
	}
}

func TestCheckNext(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckNext("d", 0, Empty("d").Next(nil)))
	assert.Error(t, CheckNext("d", 0, nil))
	assert.Error(t, CheckNext("d", 1, Empty("d").Next(nil)))
	assert.Error(t, CheckNext("e", 0, Empty("d").Next(nil)))
}

func TestRevisionOf(t *testing.T) {
	t.Parallel()

	r, err := RevisionOf("d", nil)
	require.NoError(t, err)
	assert.Zero(t, r)

	r, err = RevisionOf("d", []byte(`{"revision":7}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), r)

	_, err = RevisionOf("d", []byte(`nope`))
	assert.ErrorIs(t, err, ErrCorrupt)
}
