package preload

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// Queue coordinates a set of items, settling each once its ordering
// constraints (defer, awaiting) are satisfied. See the package documentation
// for an overview.
//
// All methods are safe for concurrent use. Methods called from the loop
// goroutine (i.e. from listeners and promise reactions) run inline.
type Queue struct {
	loop       *loop
	dispatcher *Dispatcher
	options    *queueOptions
	logger     *logiface.Logger[logiface.Event]
	fetcher    *Fetcher
	document   *Document
	plugins    *PluginRegistry
	runtime    *goja.Runtime
	ready      *Promise
	awaitables map[string]bool
	items      []*Item
	progress   QueueProgress
	// reported is the item count at the last afterprocess
	reported int
	sweeping bool
	again    bool
	mu       sync.RWMutex
}

// Batch is the result of [Queue.FetchAll].
type Batch struct {
	// Items are in the order of the input resources.
	Items []*Item
	// Promise fulfills with []any, containing each item, once every item
	// has settled successfully, or rejects with the first rejection.
	Promise *Promise
}

// New creates a Queue, and starts its loop. Callers must call
// [Queue.Close] (or [Queue.Shutdown]) to release resources.
func New(opts ...Option) (*Queue, error) {
	options, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		dispatcher: NewDispatcher(),
		options:    options,
		logger:     options.logger,
		document:   new(Document),
		plugins:    newPluginRegistry(),
		runtime:    options.runtime,
		awaitables: make(map[string]bool),
	}

	q.fetcher = newFetcher(fetcherConfig{
		client:         options.httpClient,
		logger:         options.logger,
		hostRates:      options.hostRates,
		maxConcurrency: options.maxConcurrency,
		cacheTTL:       options.cacheTTL,
		cacheCapacity:  options.cacheCapacity,
	})

	q.dispatcher.parent = options.parent
	q.dispatcher.logger = options.logger
	q.dispatcher.setBuiltin(EventLoadStart, q.onLoadStart)
	q.dispatcher.setBuiltin(EventProgress, q.onProgress)
	q.dispatcher.setBuiltin(EventLoadEnd, q.onLoadEnd)
	for _, listeners := range options.listeners {
		q.dispatcher.addListeners(listeners)
	}

	q.loop = newLoop(options.logger)

	if len(options.plugins) == 0 {
		q.ready = newPromise(q.loop)
		q.ready.resolve([]any{})
	} else {
		resources := make(Resources, 0, len(options.plugins))
		for _, p := range options.plugins {
			resources = append(resources, Resource{
				Name:   p.Name,
				Config: &Config{Kind: `plugin`, Name: p.Name, URL: p.URL},
			})
		}
		batch, err := q.FetchAll(resources)
		if err != nil {
			_ = q.Close()
			return nil, err
		}
		q.ready = batch.Promise
	}

	q.logger.Debug().
		Bool(`autoprocess`, options.defaults.Autoprocess).
		Bool(`async`, options.defaults.Async).
		Bool(`defer`, options.defaults.Defer).
		Log(`preload: queue started`)

	return q, nil
}

// Fetch enqueues a request for a resource of the given kind, and (unless
// autoprocess is disabled) begins loading it. A nil cfg is treated as an
// empty one.
//
// Configuration errors are returned as [*ConfigError], before any adapter
// is invoked, in which case the queue is not modified.
func (q *Queue) Fetch(kind string, cfg *Config) (item *Item, err error) {
	if callErr := q.loop.call(func() { item, err = q.fetch(kind, cfg) }); callErr != nil {
		return nil, callErr
	}
	return
}

// FetchAll fetches each resource, using its name as the item id, and
// [Config.Kind] as the kind.
//
// If any resource fails to be fetched, the error is returned, though the
// items already fetched remain in the queue.
func (q *Queue) FetchAll(resources Resources) (batch *Batch, err error) {
	if callErr := q.loop.call(func() { batch, err = q.fetchAll(resources) }); callErr != nil {
		return nil, callErr
	}
	return
}

// Process begins loading every item that is still waiting.
func (q *Queue) Process() error {
	return q.loop.call(func() {
		for _, item := range q.items {
			if item.State().Waiting {
				item.start()
			}
		}
	})
}

// On registers a queue-level post listener, see [Dispatcher.On]. Item
// events bubble to the queue.
func (q *Queue) On(name string, fn ListenerFunc) ListenerID { return q.dispatcher.On(name, fn) }

// OnPre registers a queue-level pre listener, see [Dispatcher.OnPre].
func (q *Queue) OnPre(name string, fn ListenerFunc) ListenerID { return q.dispatcher.OnPre(name, fn) }

// Off removes a queue-level listener, see [Dispatcher.Off].
func (q *Queue) Off(name string, id ListenerID) bool { return q.dispatcher.Off(name, id) }

// Items returns the items, in insertion order.
func (q *Queue) Items() []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.items)
}

// Progress returns a snapshot of the aggregate progress.
func (q *Queue) Progress() QueueProgress {
	q.mu.RLock()
	p := q.progress
	items := slices.Clone(q.items)
	q.mu.RUnlock()

	p.Items = ItemCounts{Total: len(items)}
	for _, item := range items {
		s := item.State()
		count := func(set bool, n *int) {
			if set {
				*n++
			}
		}
		count(s.Waiting, &p.Items.Waiting)
		count(s.Pending, &p.Items.Pending)
		count(s.Processed, &p.Items.Processed)
		count(s.Resolved, &p.Items.Resolved)
		count(s.Loaded, &p.Items.Loaded)
		count(s.Error, &p.Items.Error)
		count(s.Abort, &p.Items.Abort)
		count(s.Timeout, &p.Items.Timeout)
		count(s.Ready, &p.Items.Ready)
	}

	return p
}

// Document returns the record of nodes inserted by the built-in adapters.
func (q *Queue) Document() *Document { return q.document }

// Runtime returns the JavaScript runtime, which must only be accessed from
// the loop, see [Queue.Do].
func (q *Queue) Runtime() *goja.Runtime { return q.runtime }

// Fetcher returns the HTTP fetcher shared by the built-in adapters.
func (q *Queue) Fetcher() *Fetcher { return q.fetcher }

// Plugins returns the plugin registry.
func (q *Queue) Plugins() *PluginRegistry { return q.plugins }

// Plugin returns the named plugin, if registered.
func (q *Queue) Plugin(name string) (any, bool) { return q.plugins.Get(name) }

// Ready returns a promise that settles once the plugins configured by
// [WithPlugins] have settled. It is fulfilled immediately, if there are
// none.
func (q *Queue) Ready() *Promise { return q.ready }

// Do runs fn on the loop, waiting for it to complete, or ctx to be done.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	if fn == nil {
		return errors.New(`preload: nil function`)
	}
	return q.loop.callContext(ctx, fn)
}

// Close shuts down the queue, waiting indefinitely, see [Queue.Shutdown].
func (q *Queue) Close() error {
	return q.Shutdown(context.Background())
}

// Shutdown stops accepting new items, aborts items that are in flight, and
// waits for them to settle, before stopping the loop. If ctx is done first,
// its error is returned, though the shutdown continues in the background.
//
// When called from the loop, Shutdown does not wait.
func (q *Queue) Shutdown(ctx context.Context) error {
	err := q.loop.shutdown(ctx)
	if q.fetcher != nil {
		q.fetcher.close()
	}
	q.logger.Debug().Log(`preload: queue shut down`)
	return err
}

func (q *Queue) fetch(kind string, cfg *Config) (*Item, error) {
	if q.loop.closing() {
		return nil, ErrQueueClosed
	}

	cfg = cfg.resolve(q.options.defaults)

	item := newItem(q, kind, cfg)

	adapter, err := q.adapterFor(kind, item, cfg)
	if err != nil {
		var ce *ConfigError
		if !errors.As(err, &ce) {
			err = &ConfigError{Kind: kind, Err: err}
		}
		q.logger.Warning().
			Err(err).
			Str(`kind`, kind).
			Str(`id`, cfg.ID).
			Log(`preload: invalid item`)
		return nil, err
	}
	item.adapter = adapter

	q.mu.Lock()
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.mu.Unlock()

	if cfg.ID != `` {
		q.awaitables[cfg.ID] = false
	}

	q.logger.Debug().
		Str(`item`, item.String()).
		Str(`url`, cfg.URL).
		Bool(`defer`, cfg.IsDefer()).
		Int64(`awaiting`, int64(len(cfg.Awaiting))).
		Log(`preload: item added`)

	q.fire(EventItemAdded, item)

	item.loaderReady.resolve(item)

	if cfg.IsAutoprocess() {
		item.start()
	}

	return item, nil
}

func (q *Queue) fetchAll(resources Resources) (*Batch, error) {
	batch := Batch{Items: make([]*Item, 0, len(resources))}
	promises := make([]*Promise, 0, len(resources))

	for _, r := range resources {
		cfg := r.Config.Clone()
		cfg.ID = r.Name
		kind := cfg.Kind
		if kind == `` && cfg.Loader != nil {
			kind = kindCustom
		}
		item, err := q.fetch(kind, cfg)
		if err != nil {
			return nil, fmt.Errorf(`preload: fetch %q: %w`, r.Name, err)
		}
		batch.Items = append(batch.Items, item)
		promises = append(promises, item.promise)
	}

	batch.Promise = all(q.loop, promises)

	return &batch, nil
}

// Wait blocks until the batch settles, or ctx is done.
func (b *Batch) Wait(ctx context.Context) ([]*Item, error) {
	if _, err := b.Promise.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Items, nil
}

func (q *Queue) fire(name string, data any) *Event {
	return q.dispatcher.Fire(name, q, data)
}

func (q *Queue) onLoadStart(*Event) {
	q.mu.RLock()
	started := !q.progress.Start.IsZero()
	q.mu.RUnlock()
	if started {
		return
	}

	q.fire(EventBeforeProcess, nil)

	q.mu.Lock()
	if q.progress.Start.IsZero() {
		q.progress.Start = timeNow()
	}
	q.mu.Unlock()
}

func (q *Queue) onProgress(*Event) {
	q.updateProgress()
}

func (q *Queue) onLoadEnd(*Event) {
	q.sweep()
}

func (q *Queue) updateProgress() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress.update(timeNow(), q.items)
}
