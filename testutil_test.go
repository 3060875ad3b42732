package preload

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// newTestQueue creates a queue that is closed on test cleanup.
func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		require.NoError(t, q.Shutdown(ctx))
	})
	return q
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// syncBuffer is a goroutine-safe writer, for capturing log output.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}

// gate is a controllable adapter, completing with whatever is sent to it.
type gate struct {
	ch      chan error
	started chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{
		ch:      make(chan error, 1),
		started: make(chan struct{}),
	}
}

func (g *gate) Load(ctx context.Context, item *Item) error {
	g.once.Do(func() { close(g.started) })
	select {
	case err := <-g.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release(err error) { g.ch <- err }

func (g *gate) config(cfg *Config) *Config {
	if cfg == nil {
		cfg = new(Config)
	}
	cfg.Loader = g.Load
	return cfg
}

// recorder captures the order in which items settle.
type recorder struct {
	events []string
	mu     sync.Mutex
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// watch records "<name>:fulfilled" or "<name>:rejected" on settlement.
func (r *recorder) watch(name string, item *Item) {
	item.Promise().Then(
		func(any) { r.add(name + `:fulfilled`) },
		func(error) { r.add(name + `:rejected`) },
	)
}

func waitSettled(t *testing.T, items ...*Item) {
	t.Helper()
	ctx := testContext(t)
	for _, item := range items {
		select {
		case <-item.Promise().Done():
		case <-ctx.Done():
			t.Fatalf(`timed out waiting for %s to settle, state: %s`, item, item.State())
		}
	}
}

func waitProcessed(t *testing.T, items ...*Item) {
	t.Helper()
	for _, item := range items {
		require.Eventually(t, func() bool { return item.State().Processed }, testTimeout, time.Millisecond, item.String())
	}
}

// flush waits for every task already submitted to the loop.
func flush(t *testing.T, q *Queue) {
	t.Helper()
	require.NoError(t, q.Do(testContext(t), func() {}))
}
