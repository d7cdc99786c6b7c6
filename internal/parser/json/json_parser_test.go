package json

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"silverload/pkg/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayouts(t *testing.T) {
	t.Parallel()

	want := []records.Record{
		{"user_id": int64(1), "user_name": "ann", "score": 2.5},
		{"user_id": int64(2), "user_name": "bob", "score": nil},
	}
	cases := map[string]string{
		"ndjson": `{"user_id":1,"user_name":"ann","score":2.5}` + "\n" + `{"user_id":2,"user_name":"bob","score":null}` + "\n",
		"pretty": "{\n  \"user_id\": 1,\n  \"user_name\": \"ann\",\n  \"score\": 2.5\n}\n{\"user_id\":2,\"user_name\":\"bob\",\"score\":null}",
		"array":  `[{"user_id":1,"user_name":"ann","score":2.5},{"user_id":2,"user_name":"bob","score":null}]`,
	}
	for name, in := range cases {
		in := in
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := NewParser().Parse(strings.NewReader(in))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseNestedKeptAsJSON(t *testing.T) {
	t.Parallel()

	got, err := NewParser().Parse(strings.NewReader(`{"id":1,"tags":["a","b"],"meta":{"k":1}}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `["a","b"]`, got[0]["tags"])
	assert.Equal(t, `{"k":1}`, got[0]["meta"])
}

func TestParseRescuesBadLines(t *testing.T) {
	t.Parallel()

	in := `{"user_id":1}` + "\n" + `{"user_id":` + "\n\n" + `42` + "\n" + `{"user_id":3}`
	got, err := NewParser().Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, records.Record{"user_id": int64(1)}, got[0])
	bad := got[1][records.RescuedColumn].(map[string]any)
	assert.Equal(t, `{"user_id":`, bad["_raw"])
	assert.Equal(t, int64(2), bad["_line"])
	notObj := got[2][records.RescuedColumn].(map[string]any)
	assert.Equal(t, "42", notObj["_raw"])
	assert.Equal(t, int64(4), notObj["_line"])
	assert.Equal(t, records.Record{"user_id": int64(3)}, got[3])
}

func TestParseArrayWithNonObject(t *testing.T) {
	t.Parallel()

	got, err := NewParser().Parse(strings.NewReader(`[{"a":1}, 7]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[1], records.RescuedColumn)

	got, err = NewParser().Parse(strings.NewReader(`[{"a":1}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], records.RescuedColumn)
}

func TestParseEmptyAndReadError(t *testing.T) {
	t.Parallel()

	got, err := NewParser().Parse(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NewParser().Parse(iotest.ErrReader(errors.New("boom")))
	assert.Error(t, err)
}
