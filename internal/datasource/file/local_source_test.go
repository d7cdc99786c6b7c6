package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"silverload/internal/config"
	"silverload/internal/datasource"
)

func writeUnit(t testing.TB, root, rel, body string, mod time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

func TestLocalList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	writeUnit(t, root, "2024/05/01/part-0.json", `{"a":1}`, t0)
	writeUnit(t, root, "2024/05/02/part-0.json", `{"a":2}`, t0.Add(time.Hour))
	writeUnit(t, root, "_SUCCESS", "", time.Time{})
	writeUnit(t, root, ".staging/part-9.json", "{}", time.Time{})
	writeUnit(t, root, "2024/05/02/readme.txt", "x", time.Time{})

	all, err := mustLocal(t, root, "").List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d units, want 3: %+v", len(all), all)
	}

	json, err := mustLocal(t, root, "*.json").List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ids := map[string]datasource.Unit{}
	for _, u := range json {
		ids[u.ID] = u
	}
	if len(ids) != 2 {
		t.Fatalf("pattern list = %+v, want 2 json units", json)
	}
	u, ok := ids["2024/05/01/part-0.json"]
	if !ok {
		t.Fatalf("missing slash separated id in %+v", ids)
	}
	if !u.ModTime.Equal(t0) || u.Size != int64(len(`{"a":1}`)) {
		t.Fatalf("unit metadata = %+v", u)
	}
}

func TestLocalListErrors(t *testing.T) {
	t.Parallel()

	if _, err := mustLocal(t, filepath.Join(t.TempDir(), "missing"), "").List(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing root: got %v, want os.ErrNotExist", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mustLocal(t, t.TempDir(), "").List(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v", err)
	}

	if _, err := NewLocal("", ""); err == nil {
		t.Fatal("empty root accepted")
	}
	if _, err := NewLocal("x", "["); err == nil {
		t.Fatal("bad pattern accepted")
	}
}

func mustLocal(t *testing.T, root, pattern string) *Local {
	t.Helper()
	l, err := NewLocal(root, pattern)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

// TestLocalOpen covers success, missing unit, bad ids and a pre-canceled
// context.
func TestLocalOpen(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeUnit(t, root, "a/data.json", "hello\nworld", time.Time{})
	src := mustLocal(t, root, "")

	type tc struct {
		name            string
		id              string
		makeCtx         func() context.Context
		wantErrIs       error
		wantErrContains string
		wantContent     string
	}
	canceled := func() context.Context {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	cases := []tc{
		{name: "success_reads_content", id: "a/data.json", wantContent: "hello\nworld"},
		{name: "missing_unit", id: "a/missing.json", wantErrIs: datasource.ErrUnitNotFound, wantErrContains: "open "},
		{name: "escaping_id_rejected", id: "../etc/passwd", wantErrContains: "invalid unit id"},
		{name: "pre_canceled_context_short_circuits", id: "a/data.json", makeCtx: canceled, wantErrIs: context.Canceled},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			if c.makeCtx != nil {
				ctx = c.makeCtx()
			}
			rc, err := src.Open(ctx, c.id)

			if c.wantErrIs != nil || c.wantErrContains != "" {
				if err == nil {
					rc.Close()
					t.Fatalf("expected error, got nil")
				}
				if c.wantErrIs != nil && !errors.Is(err, c.wantErrIs) {
					t.Fatalf("errors.Is(%v, %v) = false", err, c.wantErrIs)
				}
				if c.wantErrContains != "" && !strings.Contains(err.Error(), c.wantErrContains) {
					t.Fatalf("error %q does not contain %q", err, c.wantErrContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() unexpected error: %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("reading: %v", err)
			}
			if string(got) != c.wantContent {
				t.Fatalf("content = %q, want %q", got, c.wantContent)
			}
		})
	}
}

func TestRegisteredKind(t *testing.T) {
	t.Parallel()

	s, err := datasource.New(context.Background(), config.Source{Kind: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*Local); !ok {
		t.Fatalf("New returned %T, want *Local", s)
	}
}

// BenchmarkLocalList measures listing a modest tree of units.
func BenchmarkLocalList(b *testing.B) {
	root := b.TempDir()
	for i := 0; i < 200; i++ {
		writeUnit(b, root, filepath.Join("d", strings.Repeat("x", i%7+1), "u"+string(rune('a'+i%26))+".json"), "{}", time.Time{})
	}
	src, _ := NewLocal(root, "")
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := src.List(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
