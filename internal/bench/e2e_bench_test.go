package bench

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"silverload/internal/batch"
	"silverload/internal/config"
	"silverload/internal/parser"
	"silverload/internal/schema"
	"silverload/internal/storage"
	"silverload/internal/transformer"
)

// BenchmarkEndToEnd exercises the in-memory hot path of one DimTrack run:
// decode NDJSON, transform, widen to row values and feed the chunked
// loader with a fake COPY function. No I/O and no database driver.
// Run with:
//
//	go test -run=^$ -bench ^BenchmarkEndToEnd$ -cpuprofile cpu.out -memprofile mem.out -count=1
func BenchmarkEndToEnd(b *testing.B) {
	ctx := context.Background()

	var unit bytes.Buffer
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&unit, `{"track_id":%d,"track_name":"song-%d-remix","duration_sec":%d,"album":"a-%d"}`+"\n", i, i, 60+i%400, i%37)
	}
	data := unit.Bytes()

	p, err := parser.New("json", nil)
	if err != nil {
		b.Fatal(err)
	}
	chain, err := transformer.FromSteps([]config.Step{
		{Op: config.OpBucket, Column: "duration_sec", Target: "duration_flag", Boundaries: []float64{150, 300}, Labels: []string{"Short", "Medium", "Long"}},
		{Op: config.OpStringReplace, Column: "track_name", From: "-", To: " "},
		{Op: config.OpEvictRescued},
		{Op: config.OpDedupeByKey, Keys: []string{"track_id"}},
	}, nil)
	if err != nil {
		b.Fatal(err)
	}
	src := schema.Schema{Columns: []schema.Column{
		{Name: "track_id", Type: schema.Int, Nullable: true},
		{Name: "track_name", Type: schema.String, Nullable: true},
		{Name: "duration_sec", Type: schema.Int, Nullable: true},
		{Name: "album", Type: schema.String, Nullable: true},
	}}
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		recs, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			b.Fatal(err)
		}
		in := &batch.Batch{Dataset: "DimTrack", Units: []string{"t.json"}, SourceSchema: src, Schema: src, Records: recs}
		out := chain.ApplyBatch(in)
		rows := storage.RowValues(out.Records, out.Schema)
		n, err := storage.LoadBatches(ctx, out.Schema.Names(), rows, 500, copyFn)
		if err != nil {
			b.Fatal(err)
		}
		if n != 1000 {
			b.Fatalf("loaded %d rows, want 1000", n)
		}
	}
}
