package preload

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	q := newTestQueue(t)

	ready, err := q.Fetch(kindNone, &Config{ID: `ready`})
	require.NoError(t, err)
	waitSettled(t, ready)
	_, err = q.Fetch(kindNone, &Config{Autoprocess: Bool(false)})
	require.NoError(t, err)
	flush(t, q)

	c := NewCollector(q, `test`)

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(c))

	const expected = `
# HELP test_preload_items Number of queued items, by lifecycle state.
# TYPE test_preload_items gauge
test_preload_items{state="abort"} 0
test_preload_items{state="error"} 0
test_preload_items{state="loaded"} 1
test_preload_items{state="pending"} 0
test_preload_items{state="processed"} 1
test_preload_items{state="ready"} 1
test_preload_items{state="resolved"} 1
test_preload_items{state="timeout"} 0
test_preload_items{state="total"} 2
test_preload_items{state="waiting"} 1
# HELP test_preload_bytes_loaded Bytes received across all items.
# TYPE test_preload_bytes_loaded gauge
test_preload_bytes_loaded 0
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		`test_preload_items`,
		`test_preload_bytes_loaded`,
	))

	assert.Equal(t, 15, testutil.CollectAndCount(c))
}
