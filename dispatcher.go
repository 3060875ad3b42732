package preload

import (
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
)

// PreMarker is the reserved prefix that selects the "pre" phase, for event
// names used as keys of [Listeners], e.g. "pre:load".
const PreMarker = `pre:`

// ListenerFunc is a callback registered with [Dispatcher.On] or
// [Dispatcher.OnPre].
type ListenerFunc func(e *Event)

// ListenerID identifies a registered listener, for removal purposes.
// Go function values cannot be compared, so each registration is assigned an
// id instead.
type ListenerID uint64

// Listeners maps event names to callbacks, e.g. for [Config.On] and
// [WithListeners]. Names prefixed with [PreMarker] register in the pre
// phase.
type Listeners map[string][]ListenerFunc

type (
	listenerEntry struct {
		fn ListenerFunc
		id ListenerID
	}

	listenerBuckets struct {
		pre  []listenerEntry
		post []listenerEntry
	}
)

// Dispatcher implements ordered event dispatch with default-action and
// propagation control. Every stateful component (Item, Queue) owns one.
//
// For a given event name, dispatch runs:
//  1. pre listeners, in registration order, halting on immediate stop
//  2. the built-in handler, unless immediately stopped or default prevented
//  3. post listeners, in registration order, halting on immediate stop
//  4. the parent's dispatch, with the same event, unless propagation stopped
//
// Listener registration is safe for concurrent use. Dispatch itself is
// synchronous, and is expected to happen on a single goroutine.
type Dispatcher struct {
	listeners map[string]*listenerBuckets
	builtins  map[string]ListenerFunc
	parent    *Dispatcher
	logger    *logiface.Logger[logiface.Event]
	nextID    ListenerID
	mu        sync.RWMutex
}

// NewDispatcher creates a Dispatcher with no listeners and no parent. It may
// be used as the parent of a [Queue], see [WithParent].
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[string]*listenerBuckets),
		builtins:  make(map[string]ListenerFunc),
		nextID:    1,
	}
}

// On registers a listener in the post phase. A name prefixed with
// [PreMarker] registers in the pre phase instead. Returns 0 if fn is nil.
func (d *Dispatcher) On(name string, fn ListenerFunc) ListenerID {
	if rest, ok := strings.CutPrefix(name, PreMarker); ok {
		return d.add(rest, fn, true)
	}
	return d.add(name, fn, false)
}

// OnPre registers a listener in the pre phase, the only phase in which
// [Event.PreventDefault] has an effect.
func (d *Dispatcher) OnPre(name string, fn ListenerFunc) ListenerID {
	return d.add(name, fn, true)
}

// Off removes a listener by id, from either phase. Returns true if a
// listener was removed.
func (d *Dispatcher) Off(name string, id ListenerID) bool {
	name = strings.TrimPrefix(name, PreMarker)

	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.listeners[name]
	if b == nil {
		return false
	}

	for _, bucket := range [...]*[]listenerEntry{&b.pre, &b.post} {
		for i, entry := range *bucket {
			if entry.id == id {
				*bucket = append((*bucket)[:i:i], (*bucket)[i+1:]...)
				return true
			}
		}
	}

	return false
}

// ListenerCount returns the number of listeners registered for the name,
// across both phases.
func (d *Dispatcher) ListenerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.listeners[name]
	if b == nil {
		return 0
	}
	return len(b.pre) + len(b.post)
}

// Fire creates an event and dispatches it, returning the event so callers
// may inspect its flags.
func (d *Dispatcher) Fire(name string, target any, data any) *Event {
	e := NewEvent(name, target, data)
	d.Dispatch(e)
	return e
}

// Dispatch dispatches an existing event, see [Dispatcher] for the algorithm.
func (d *Dispatcher) Dispatch(e *Event) {
	if d == nil || e == nil {
		return
	}

	pre, post, builtin := d.snapshot(e.Name)

	for _, entry := range pre {
		if e.immediatePropagationStopped {
			break
		}
		d.call(entry.fn, e)
	}

	if !e.immediatePropagationStopped && !e.defaultPrevented && builtin != nil {
		builtin(e)
	}

	for _, entry := range post {
		if e.immediatePropagationStopped {
			break
		}
		d.call(entry.fn, e)
	}

	if !e.propagationStopped && d.parent != nil {
		d.parent.Dispatch(e)
	}
}

// addListeners registers every entry of a Listeners map, in a deterministic
// order per name.
func (d *Dispatcher) addListeners(listeners Listeners) {
	for name, fns := range listeners {
		for _, fn := range fns {
			d.On(name, fn)
		}
	}
}

// setBuiltin registers the component's own handler for an event name.
// Must be called before the dispatcher is shared.
func (d *Dispatcher) setBuiltin(name string, fn ListenerFunc) {
	d.builtins[name] = fn
}

func (d *Dispatcher) add(name string, fn ListenerFunc, pre bool) ListenerID {
	if fn == nil {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.listeners[name]
	if b == nil {
		b = new(listenerBuckets)
		d.listeners[name] = b
	}

	id := d.nextID
	d.nextID++

	entry := listenerEntry{id: id, fn: fn}
	if pre {
		b.pre = append(b.pre, entry)
	} else {
		b.post = append(b.post, entry)
	}

	return id
}

// snapshot copies the listeners for a name, so the lock isn't held during
// dispatch (listeners may register further listeners).
func (d *Dispatcher) snapshot(name string) (pre, post []listenerEntry, builtin ListenerFunc) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b := d.listeners[name]; b != nil {
		pre = append([]listenerEntry(nil), b.pre...)
		post = append([]listenerEntry(nil), b.post...)
	}
	builtin = d.builtins[name]
	return
}

func (d *Dispatcher) call(fn ListenerFunc, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Err().
				Err(PanicError{Value: r}).
				Str(`event`, e.Name).
				Log(`listener panicked`)
		}
	}()
	fn(e)
}
