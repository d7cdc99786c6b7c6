package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	counters   []counterCall
	histograms []histCall
	flushCount int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func install(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	SetBackend(fb)
	t.Cleanup(Reset)
	return fb
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	fb := install(t)

	RecordStep("spotify", "DimUser", "read", nil, 2*time.Second)
	RecordStep("spotify", "DimTrack", "commit", errors.New("boom"), 1500*time.Millisecond)

	require.Len(t, fb.counters, 2)
	require.Len(t, fb.histograms, 2)

	c0 := fb.counters[0]
	assert.Equal(t, StepTotal, c0.name)
	assert.Equal(t, 1.0, c0.delta)
	assert.Equal(t, Labels{"job": "spotify", "dataset": "DimUser", "step": "read", "status": "success"}, c0.labels)

	assert.Equal(t, StepDurationSeconds, fb.histograms[0].name)
	assert.InDelta(t, 2.0, fb.histograms[0].value, 0.001)

	assert.Equal(t, "failure", fb.counters[1].labels["status"])
	assert.InDelta(t, 1.5, fb.histograms[1].value, 0.001)
}

func TestRecordRowAndBatches(t *testing.T) {
	fb := install(t)

	RecordRow("spotify", "DimUser", "read", 3)
	RecordRow("spotify", "DimUser", "read", 0) // ignored
	RecordRow("spotify", "DimUser", "committed", 5)
	RecordBatches("spotify", "DimUser", 2)
	RecordBatches("spotify", "DimUser", -1) // ignored

	require.Len(t, fb.counters, 3)
	assert.Equal(t, RecordsTotal, fb.counters[0].name)
	assert.Equal(t, "read", fb.counters[0].labels["kind"])
	assert.Equal(t, 5.0, fb.counters[1].delta)
	assert.Equal(t, BatchesTotal, fb.counters[2].name)
	assert.Equal(t, "DimUser", fb.counters[2].labels["dataset"])
}

func TestSetBackendAndFlush(t *testing.T) {
	fb := install(t)

	require.NoError(t, Flush())
	assert.Equal(t, 1, fb.flushCount)

	SetBackend(nil)
	assert.Same(t, fb, current())

	Reset()
	assert.Equal(t, nopBackend{}, current())
}
