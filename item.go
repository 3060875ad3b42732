package preload

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/logiface"
)

// Item is one queued resource request. It is created by [Queue.Fetch], and
// lives as long as its queue.
//
// The lifecycle booleans (see [ItemState]) are driven exclusively by the
// item's built-in handlers, for the events raised by its adapter. An item's
// settlement promise is resolved by the queue, once the item is processed,
// and its ordering constraints permit.
type Item struct {
	queue       *Queue
	dispatcher  *Dispatcher
	config      *Config
	adapter     Adapter
	loaderReady *Promise
	promise     *Promise
	kind        string
	response    any
	err         error
	progress    ItemProgress
	state       ItemState
	index       int
	mu          sync.RWMutex

	// loop-only
	started         bool
	loadstartRaised bool
	terminalRaised  bool
	loadendRaised   bool
}

func newItem(q *Queue, kind string, cfg *Config) *Item {
	i := &Item{
		queue:       q,
		dispatcher:  NewDispatcher(),
		config:      cfg,
		kind:        kind,
		loaderReady: newPromise(q.loop),
		promise:     newPromise(q.loop),
		state:       ItemState{Waiting: true},
	}

	i.dispatcher.parent = q.dispatcher
	i.dispatcher.logger = q.logger

	i.dispatcher.setBuiltin(EventLoadStart, i.onLoadStart)
	i.dispatcher.setBuiltin(EventProgress, i.onProgress)
	i.dispatcher.setBuiltin(EventLoad, i.onLoad)
	i.dispatcher.setBuiltin(EventError, i.onFailure(EventError))
	i.dispatcher.setBuiltin(EventAbort, i.onFailure(EventAbort))
	i.dispatcher.setBuiltin(EventTimeout, i.onFailure(EventTimeout))
	i.dispatcher.setBuiltin(EventLoadEnd, i.onLoadEnd)
	i.dispatcher.setBuiltin(EventReady, i.onReady)

	i.dispatcher.addListeners(cfg.On)

	return i
}

// String identifies the item for logging purposes.
func (i *Item) String() string {
	if i == nil {
		return `<nil item>`
	}
	if i.config.ID != `` {
		return fmt.Sprintf(`%s item %q`, i.kind, i.config.ID)
	}
	return fmt.Sprintf(`%s item #%d`, i.kind, i.index)
}

// ID returns the dependency-reference key, which may be empty.
func (i *Item) ID() string { return i.config.ID }

// Kind returns the kind the item was fetched as.
func (i *Item) Kind() string { return i.kind }

// Index returns the insertion position of the item, within its queue.
func (i *Item) Index() int { return i.index }

// Defer reports whether the item settles in insertion order, relative to
// other deferred items.
func (i *Item) Defer() bool { return i.config.IsDefer() }

// Awaiting returns the ids that must be ready before the item may settle.
func (i *Item) Awaiting() []string { return slices.Clone(i.config.Awaiting) }

// Config returns the effective configuration, which must not be modified.
func (i *Item) Config() *Config { return i.config }

// Queue returns the queue the item belongs to.
func (i *Item) Queue() *Queue { return i.queue }

// Logger returns the queue's logger, which may be nil.
func (i *Item) Logger() *logiface.Logger[logiface.Event] { return i.queue.logger }

// Plugin returns the named plugin, if registered with the queue.
func (i *Item) Plugin(name string) (any, bool) { return i.queue.plugins.Get(name) }

// LoaderReady returns a promise that fulfills with the item, once its
// adapter is attached.
func (i *Item) LoaderReady() *Promise { return i.loaderReady }

// Promise returns the settlement promise, which fulfills with the item, or
// rejects with a [*LoadError].
func (i *Item) Promise() *Promise { return i.promise }

// State returns a snapshot of the lifecycle booleans.
func (i *Item) State() ItemState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Progress returns a snapshot of the progress accumulator.
func (i *Item) Progress() ItemProgress {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.progress.Clone()
}

// Err returns the recorded failure, if any.
func (i *Item) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Response returns the adapter's output, e.g. the decoded JSON value.
func (i *Item) Response() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.response
}

// SetResponse records the adapter's output.
func (i *Item) SetResponse(v any) {
	i.mu.Lock()
	i.response = v
	i.mu.Unlock()
}

// On registers a post listener on the item, see [Dispatcher.On].
func (i *Item) On(name string, fn ListenerFunc) ListenerID { return i.dispatcher.On(name, fn) }

// OnPre registers a pre listener on the item, see [Dispatcher.OnPre].
func (i *Item) OnPre(name string, fn ListenerFunc) ListenerID { return i.dispatcher.OnPre(name, fn) }

// Off removes a listener from the item, see [Dispatcher.Off].
func (i *Item) Off(name string, id ListenerID) bool { return i.dispatcher.Off(name, id) }

// Fire raises an event on the item, with the item as the target. It may be
// called from any goroutine, and returns once the event has been dispatched,
// including bubbling.
func (i *Item) Fire(name string, data any) error {
	return i.queue.loop.call(func() { i.fire(name, data) })
}

// Process begins loading the item, if it is still waiting. Only necessary
// if autoprocess is disabled.
func (i *Item) Process() error {
	return i.queue.loop.call(i.start)
}

func (i *Item) fire(name string, data any) *Event {
	switch name {
	case EventLoadStart:
		i.loadstartRaised = true
	case EventLoad, EventError, EventAbort, EventTimeout:
		i.terminalRaised = true
	case EventLoadEnd:
		i.loadendRaised = true
	}
	return i.dispatcher.Fire(name, i, data)
}

// start runs the adapter on a worker goroutine. Must be called on the loop.
func (i *Item) start() {
	if i.started {
		return
	}
	i.started = true

	i.queue.logger.Debug().
		Str(`item`, i.String()).
		Log(`preload: processing item`)

	if !i.queue.loop.goWorker(i.run) {
		i.complete(ErrAborted)
	}
}

func (i *Item) run(ctx context.Context) {
	if d := i.config.Timeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, ErrTimeout)
		defer cancel()
	}

	err := i.load(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = context.Cause(ctx)
	}

	if err := i.queue.loop.call(func() { i.complete(err) }); err != nil {
		i.queue.logger.Warning().
			Err(err).
			Str(`item`, i.String()).
			Log(`preload: unable to complete item`)
	}
}

func (i *Item) load(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return i.adapter.Load(ctx, i)
}

// complete enforces the completion contract, after the adapter has
// returned. Must be called on the loop.
func (i *Item) complete(err error) {
	if !i.loadstartRaised {
		i.fire(EventLoadStart, nil)
	}

	if err != nil {
		i.mu.Lock()
		i.err = err
		i.mu.Unlock()
		if !i.State().Failed() {
			i.fire(failureEvent(err), err)
		}
	} else if !i.terminalRaised {
		i.fire(EventLoad, nil)
	}

	if !i.loadendRaised {
		i.fire(EventLoadEnd, nil)
	}
}

// failureEvent classifies an adapter error.
func failureEvent(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return EventTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrAborted):
		return EventAbort
	default:
		return EventError
	}
}

func (i *Item) onLoadStart(*Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.state.Waiting {
		return
	}
	i.state.Waiting = false
	i.state.Pending = true
	i.progress.start(timeNow())
}

func (i *Item) onProgress(e *Event) {
	data, ok := e.Progress()
	if !ok {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.progress.sample(timeNow(), data)
}

func (i *Item) onLoad(*Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state.Failed() {
		return
	}
	i.state.Loaded = true
	i.progress.complete()
}

func (i *Item) onFailure(name string) ListenerFunc {
	return func(e *Event) {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.state.Loaded = false
		i.state.Error = true
		switch name {
		case EventAbort:
			i.state.Abort = true
			if i.err == nil {
				i.err = ErrAborted
			}
		case EventTimeout:
			i.state.Timeout = true
			if i.err == nil {
				i.err = ErrTimeout
			}
		default:
			if i.err == nil {
				if err, ok := e.Data.(error); ok {
					i.err = err
				}
			}
		}
	}
}

func (i *Item) onLoadEnd(*Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state.Processed {
		return
	}
	i.state.Pending = false
	i.state.Processed = true
	i.progress.end(timeNow())
}

// onReady marks the item ready, only once it has been resolved as loaded,
// so a ready event raised early (e.g. by an adapter) unblocks nothing.
func (i *Item) onReady(*Event) {
	i.mu.Lock()
	if !i.state.Resolved || !i.state.Loaded {
		i.mu.Unlock()
		return
	}
	i.state.Ready = true
	i.mu.Unlock()

	if i.config.ID == `` {
		return
	}
	i.queue.awaitables[i.config.ID] = true
	i.queue.sweep()
}
