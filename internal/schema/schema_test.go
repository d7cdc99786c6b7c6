package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cols(cs ...Column) Schema { return Schema{Columns: cs} }

func TestMergeAddsNullableColumns(t *testing.T) {
	t.Parallel()

	base := cols(Column{Name: "track_id", Type: Int}, Column{Name: "track_name", Type: String})
	next := cols(Column{Name: "track_id", Type: Int}, Column{Name: "duration_sec", Type: Int})

	got, err := Merge(base, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"track_id", "track_name", "duration_sec"}, got.Names())

	c, ok := got.Lookup("duration_sec")
	require.True(t, ok)
	assert.True(t, c.Nullable)
	// base untouched
	assert.Equal(t, 2, base.Len())
}

func TestMergeTypeRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		have    Type
		got     Type
		wantErr bool
	}{
		{"same", String, String, false},
		{"int_into_float", Float, Int, false},
		{"float_into_int", Int, Float, true},
		{"string_into_int", Int, String, true},
		{"bool_into_string", String, Bool, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, err := Merge(cols(Column{Name: "x", Type: c.have}), cols(Column{Name: "x", Type: c.got}))
			if !c.wantErr {
				require.NoError(t, err)
				return
			}
			var ie *IncompatibleError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, "x", ie.Column)
			assert.Equal(t, c.have, ie.Have)
			assert.Equal(t, c.got, ie.Got)
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := cols(Column{Name: "a", Type: Int}, Column{Name: "b", Type: String, Nullable: true})
	b := a.Clone()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)

	reordered := cols(a.Columns[1], a.Columns[0])
	assert.NotEqual(t, a.Fingerprint(), reordered.Fingerprint())
}

func TestWithAndWithout(t *testing.T) {
	t.Parallel()

	s := cols(Column{Name: "a", Type: Int}, Column{Name: "b", Type: String})
	s2 := s.With(Column{Name: "a", Type: String}).With(Column{Name: "c", Type: Bool})
	assert.Equal(t, []string{"a", "b", "c"}, s2.Names())
	assert.Equal(t, String, s2.Columns[0].Type)
	assert.Equal(t, Int, s.Columns[0].Type)

	assert.Equal(t, []string{"b"}, s2.Without("a", "c", "missing").Names())
}

func TestNormalizeAndCoerce(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(42), Normalize(json.Number("42")))
	assert.Equal(t, 4.5, Normalize(json.Number("4.5")))
	assert.Equal(t, int64(7), Normalize(7))
	assert.Equal(t, `{"a":1}`, Normalize(map[string]any{"a": 1}))
	assert.Nil(t, Normalize(nil))

	v, ok := Coerce(int64(3), Float)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = Coerce("abc", Int)
	assert.False(t, ok)

	v, ok = Coerce(nil, Int)
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParseScalar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(149), ParseScalar("149"))
	assert.Equal(t, 1.5, ParseScalar("1.5"))
	assert.Equal(t, true, ParseScalar("TRUE"))
	assert.Equal(t, "Short", ParseScalar("Short"))
	assert.Equal(t, "NaN", ParseScalar("NaN"))
	assert.Nil(t, ParseScalar(""))
}
