package datadog

import (
	"testing"

	"silverload/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(Config{})
	require.Error(t, err)
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	assert.Nil(t, labelsToTags(nil))
	assert.Equal(t,
		[]string{"dataset:DimUser", "job:spotify", "step:read"},
		labelsToTags(metrics.Labels{"step": "read", "job": "spotify", "dataset": "DimUser"}),
	)
}

func TestZeroBackendIsSafe(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
	assert.NoError(t, b.Flush())
	assert.NoError(t, b.Close())
}

func TestBackendSendsOverUDP(t *testing.T) {
	t.Parallel()

	// statsd over UDP does not need a listener to accept writes.
	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "silverload."})
	require.NoError(t, err)
	defer b.Close()

	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"dataset": "DimUser", "kind": "read"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, metrics.Labels{"dataset": "DimUser"})
	assert.NoError(t, b.Flush())
}
