package preload

import (
	"time"
)

// Event names raised by items, adapters, and queues.
const (
	EventLoadStart        = `loadstart`
	EventProgress         = `progress`
	EventLoad             = `load`
	EventError            = `error`
	EventAbort            = `abort`
	EventTimeout          = `timeout`
	EventLoadEnd          = `loadend`
	EventReady            = `ready`
	EventReadyStateChange = `readystatechange`
	EventItemAdded        = `itemadded`
	EventBeforeProcess    = `beforeprocess`
	EventAfterProcess     = `afterprocess`
	EventPluginized       = `pluginized`
	EventFontLoading      = `fontloading`
	EventFontActive       = `fontactive`
	EventFontInactive     = `fontinactive`
)

// Event describes a single occurrence, dispatched by a [Dispatcher].
//
// The payload (Name, Target, Data, Timestamp) is fixed at construction. The
// propagation flags may only ever be set, and are shared by every component
// the event bubbles through.
//
// Event is NOT safe for concurrent use. Events are only ever handled on the
// queue's loop goroutine.
type Event struct { //nolint:govet // betteralign:ignore
	// Name identifies the kind of occurrence, e.g. [EventLoad].
	Name string

	// Target is the component that raised the event, typically an *Item or
	// *Queue.
	Target any

	// Data is an optional payload, e.g. [ProgressData] for progress events.
	Data any

	// Timestamp is the creation time of the event (monotonic).
	Timestamp time.Time

	defaultPrevented            bool
	propagationStopped          bool
	immediatePropagationStopped bool
}

// ProgressData is the payload of [EventProgress] events, as reported by
// adapters.
type ProgressData struct {
	// Loaded is the number of bytes received so far.
	Loaded int64
	// Total is the expected number of bytes, only meaningful if
	// LengthComputable is true.
	Total int64
	// LengthComputable indicates that Total is known.
	LengthComputable bool
}

// NewEvent creates a new Event, timestamped at the time of the call.
func NewEvent(name string, target any, data any) *Event {
	return &Event{
		Name:      name,
		Target:    target,
		Data:      data,
		Timestamp: timeNow(),
	}
}

// PreventDefault skips the built-in handler of the component dispatching the
// event. It only has an effect if called from a "pre" listener.
func (e *Event) PreventDefault() *Event {
	e.defaultPrevented = true
	return e
}

// StopPropagation prevents the event from bubbling to the parent. The
// remaining listeners on the current component are still called.
func (e *Event) StopPropagation() *Event {
	e.propagationStopped = true
	return e
}

// StopImmediatePropagation prevents any further listeners from being called,
// and also stops propagation.
func (e *Event) StopImmediatePropagation() *Event {
	e.immediatePropagationStopped = true
	return e.StopPropagation()
}

// DefaultPrevented returns true if PreventDefault was called.
func (e *Event) DefaultPrevented() bool {
	return e.defaultPrevented
}

// PropagationStopped returns true if StopPropagation or
// StopImmediatePropagation was called.
func (e *Event) PropagationStopped() bool {
	return e.propagationStopped
}

// ImmediatePropagationStopped returns true if StopImmediatePropagation was
// called.
func (e *Event) ImmediatePropagationStopped() bool {
	return e.immediatePropagationStopped
}

// Item returns the target as an *Item, or nil.
func (e *Event) Item() *Item {
	item, _ := e.Target.(*Item)
	return item
}

// Progress returns the progress payload, if any.
func (e *Event) Progress() (ProgressData, bool) {
	switch v := e.Data.(type) {
	case ProgressData:
		return v, true
	case *ProgressData:
		if v != nil {
			return *v, true
		}
	}
	return ProgressData{}, false
}
