package transformer

import (
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"

	"silverload/internal/batch"
	"silverload/internal/config"
	"silverload/internal/schema"
	"silverload/pkg/records"
)

/*
identityTransformer is a no-op transformer used in tests/benchmarks.
It returns the input slice without allocating or modifying it.
*/
type identityTransformer struct{}

func (identityTransformer) Apply(in []records.Record) []records.Record { return in }

/*
addFieldTransformer mutates each record in place by setting key -> value and
declares the new column through MapSchema.
*/
type addFieldTransformer struct {
	key string
	val any
}

func (t addFieldTransformer) Apply(in []records.Record) []records.Record {
	for i := range in {
		in[i][t.key] = t.val
	}
	return in
}

func (t addFieldTransformer) MapSchema(s schema.Schema) schema.Schema {
	typ, _ := schema.TypeOf(t.val)
	return s.With(schema.Column{Name: t.key, Type: typ, Nullable: true})
}

/*
counterTransformer increments *calls whenever Apply is invoked. Used to verify
that each transformer in the chain is called exactly once and in order.
*/
type counterTransformer struct {
	calls *int32
	mark  string
	rank  int64
}

func (t counterTransformer) Apply(in []records.Record) []records.Record {
	atomic.AddInt32(t.calls, 1)
	if t.mark != "" {
		for i := range in {
			in[i][t.mark] = t.rank
		}
	}
	return in
}

func makeRecs(n int) []records.Record {
	recs := make([]records.Record, n)
	for i := 0; i < n; i++ {
		recs[i] = records.Record{"id": int64(i)}
	}
	return recs
}

/*
TestChainApply_Composition_Order verifies that Chain.Apply passes the output of
each transformer as the input to the next, in the declared order.
*/
func TestChainApply_Composition_Order(t *testing.T) {
	in := []records.Record{{"id": int64(1)}}
	c := Chain{
		addFieldTransformer{key: "a", val: "first"},
		addFieldTransformer{key: "b", val: "second"},
		addFieldTransformer{key: "a", val: "third"},
	}
	out := c.Apply(in)

	want := records.Record{"id": int64(1), "a": "third", "b": "second"}
	if !reflect.DeepEqual(out[0], want) {
		t.Fatalf("composition mismatch:\n got: %#v\nwant: %#v", out[0], want)
	}
}

func TestChainApply_NilAndEmptyChain(t *testing.T) {
	in := makeRecs(3)

	var cNil Chain
	outNil := cNil.Apply(in)
	if len(outNil) != len(in) || &outNil[0] != &in[0] {
		t.Fatalf("nil chain should return same slice header")
	}
	if out := (Chain{}).Apply(in); !reflect.DeepEqual(out, in) {
		t.Fatalf("empty chain mutated output")
	}
}

func TestChainApply_TransformerCalledOnce(t *testing.T) {
	var calls int32
	in := makeRecs(2)
	c := Chain{
		counterTransformer{calls: &calls, mark: "rank", rank: 1},
		counterTransformer{calls: &calls, mark: "rank", rank: 2},
		counterTransformer{calls: &calls, mark: "rank", rank: 3},
	}
	_ = c.Apply(in)
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d; want 3", got)
	}
	for _, r := range in {
		if r["rank"] != int64(3) {
			t.Fatalf("last step should win: %#v", r)
		}
	}
}

func TestChainApply_NilInput(t *testing.T) {
	var in []records.Record
	out := Chain{identityTransformer{}}.Apply(in)
	if out != nil {
		t.Fatalf("Apply(nil) => %#v; want nil", out)
	}
}

func TestChainMapSchema_SkipsNonMappers(t *testing.T) {
	base := schema.Schema{Columns: []schema.Column{{Name: "id", Type: schema.Int}}}
	c := Chain{identityTransformer{}, addFieldTransformer{key: "tag", val: "x"}}
	got := c.MapSchema(base)
	if !reflect.DeepEqual(got.Names(), []string{"id", "tag"}) {
		t.Fatalf("names=%v", got.Names())
	}
	if base.Len() != 1 {
		t.Fatalf("base schema modified: %v", base.Names())
	}
}

/*
TestApplyBatch_LeavesInputUntouched verifies the batch handed to ApplyBatch can
be reused after the chain ran, which the commit retry path depends on.
*/
func TestApplyBatch_LeavesInputUntouched(t *testing.T) {
	in := &batch.Batch{
		Dataset: "DimUser",
		Units:   []string{"a.json"},
		Schema:  schema.Schema{Columns: []schema.Column{{Name: "id", Type: schema.Int}}},
		Records: []records.Record{
			{"id": int64(1), records.RescuedColumn: `{"_line":1}`},
			{"id": int64(2)},
		},
		Rescued: 1,
	}
	c := Chain{addFieldTransformer{key: "tag", val: "x"}, evict{}}

	out := c.ApplyBatch(in)
	if _, ok := in.Records[0]["tag"]; ok {
		t.Fatalf("input record mutated: %#v", in.Records[0])
	}
	if in.Rescued != 1 || out.Rescued != 0 {
		t.Fatalf("rescued in=%d out=%d", in.Rescued, out.Rescued)
	}
	if out.Records[1]["tag"] != "x" {
		t.Fatalf("output record missing tag: %#v", out.Records[1])
	}
	if _, ok := out.Schema.Lookup("tag"); !ok {
		t.Fatalf("schema not mapped: %v", out.Schema.Names())
	}
	if c.ApplyBatch(nil) != nil {
		t.Fatal("ApplyBatch(nil) should be nil")
	}
}

type evict struct{}

func (evict) Apply(in []records.Record) []records.Record {
	for _, r := range in {
		delete(r, records.RescuedColumn)
	}
	return in
}

func TestFromSteps(t *testing.T) {
	steps := []config.Step{
		{Op: config.OpDropColumns, Columns: []string{"tmp"}},
		{Op: config.OpUppercase, Column: "name"},
		{Op: config.OpStringReplace, Column: "name", From: " ", To: "_"},
		{Op: config.OpBucket, Column: "duration", Target: "len", Boundaries: []float64{150, 300}, Labels: []string{"Short", "Medium", "Long"}},
		{Op: config.OpDedupeByKey},
		{Op: config.OpEvictRescued},
	}
	c, err := FromSteps(steps, []string{"id"})
	if err != nil {
		t.Fatalf("FromSteps: %v", err)
	}
	if len(c) != len(steps) {
		t.Fatalf("len=%d want %d", len(c), len(steps))
	}

	in := []records.Record{
		{"id": int64(1), "name": "big band", "duration": int64(200), "tmp": true},
		{"id": int64(1), "name": "big band", "duration": int64(200), "tmp": false},
		{"id": int64(2), "name": "solo", "duration": int64(90), records.RescuedColumn: "{}"},
	}
	out := c.Apply(in)
	want := []records.Record{
		{"id": int64(1), "name": "BIG_BAND", "duration": int64(200), "len": "Medium"},
		{"id": int64(2), "name": "SOLO", "duration": int64(90), "len": "Short"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v\nwant %#v", out, want)
	}
}

func TestFromSteps_DatasetKeysAlwaysDeduped(t *testing.T) {
	in := []records.Record{
		{"track_id": int64(7), "duration_sec": int64(200)},
		{"track_id": int64(7), "duration_sec": int64(100)},
		{"track_id": int64(8), "duration_sec": int64(90)},
	}
	cases := []struct {
		name     string
		steps    []config.Step
		appended int
	}{
		{"no dedupe step", []config.Step{{Op: config.OpEvictRescued}}, 1},
		{"dedupe on other keys", []config.Step{{Op: config.OpDedupeByKey, Keys: []string{"duration_sec"}}}, 1},
		{"dedupe on dataset keys", []config.Step{{Op: config.OpDedupeByKey, Keys: []string{"track_id"}}}, 0},
	}
	for _, tc := range cases {
		c, err := FromSteps(tc.steps, []string{"track_id"})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := len(c) - len(tc.steps); got != tc.appended {
			t.Errorf("%s: appended %d steps, want %d", tc.name, got, tc.appended)
		}
		out := c.Apply(in)
		if len(out) != 2 {
			t.Fatalf("%s: got %d records, want 2: %#v", tc.name, len(out), out)
		}
		if out[0]["track_id"] != int64(7) || out[1]["track_id"] != int64(8) {
			t.Errorf("%s: unexpected keys %#v", tc.name, out)
		}
	}

	c, err := FromSteps([]config.Step{{Op: config.OpEvictRescued}}, nil)
	if err != nil {
		t.Fatalf("FromSteps: %v", err)
	}
	if len(c) != 1 {
		t.Errorf("keyless dataset got %d steps, want 1", len(c))
	}
}

func TestFromSteps_Errors(t *testing.T) {
	bad := [][]config.Step{
		{{Op: "explode"}},
		{{Op: config.OpDropColumns}},
		{{Op: config.OpUppercase}},
		{{Op: config.OpStringReplace, Column: "x", From: "(", Regex: true}},
		{{Op: config.OpBucket, Column: "x", Boundaries: []float64{1}, Labels: []string{"a"}}},
		{{Op: config.OpDedupeByKey}},
	}
	for i, steps := range bad {
		if _, err := FromSteps(steps, nil); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func BenchmarkChain_Identity_3(b *testing.B) { benchChainIdentity(b, 3) }

func benchChainIdentity(b *testing.B, n int) {
	const recs = 20000
	in := make([]records.Record, recs)
	for i := 0; i < recs; i++ {
		in[i] = records.Record{"id": int64(i), "name": "user_" + strconv.Itoa(i%1000)}
	}
	c := make(Chain, n)
	for i := 0; i < n; i++ {
		c[i] = identityTransformer{}
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Apply(in)
	}
}
