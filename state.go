package preload

import (
	"strings"
	"sync/atomic"
)

// loopState models the lifecycle of a queue's loop goroutine.
//
//	stateRunning     → stateClosing    [Shutdown()]
//	stateClosing     → stateTerminated [loop drained]
//	stateTerminated  → (terminal)
type loopState uint32

const (
	stateRunning loopState = iota
	stateClosing
	stateTerminated
)

func (s loopState) String() string {
	switch s {
	case stateRunning:
		return "Running"
	case stateClosing:
		return "Closing"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

type fastState struct {
	v atomic.Uint32
}

func (s *fastState) Load() loopState {
	return loopState(s.v.Load())
}

func (s *fastState) Store(state loopState) {
	s.v.Store(uint32(state))
}

func (s *fastState) TryTransition(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// ItemState is a snapshot of an item's lifecycle booleans.
//
// Transitions, driven by the item's built-in event handlers:
//
//	Waiting → Pending               [loadstart]
//	Pending → Loaded | Error        [load | error, abort, timeout]
//	Pending → Processed             [loadend]
//	Processed → Resolved            [sweep]
//	Resolved && Loaded → Ready      [ready, fired by the sweep]
//
// Invariants: Ready implies Loaded, Loaded implies Processed (once
// completed), Resolved implies Processed, and Resolved never reverts. Abort
// and Timeout both imply Error.
type ItemState struct {
	Waiting   bool
	Pending   bool
	Loaded    bool
	Error     bool
	Abort     bool
	Timeout   bool
	Processed bool
	Resolved  bool
	Ready     bool
}

// Failed returns true if the item completed in any failure state.
func (s ItemState) Failed() bool {
	return s.Error || s.Abort || s.Timeout
}

// Rejected returns true if the item was settled unsuccessfully.
func (s ItemState) Rejected() bool {
	return s.Resolved && !s.Loaded
}

// String returns the set flags, e.g. "loaded|processed|resolved|ready".
func (s ItemState) String() string {
	var b strings.Builder
	for _, flag := range [...]struct {
		name string
		set  bool
	}{
		{`waiting`, s.Waiting},
		{`pending`, s.Pending},
		{`loaded`, s.Loaded},
		{`error`, s.Error},
		{`abort`, s.Abort},
		{`timeout`, s.Timeout},
		{`processed`, s.Processed},
		{`resolved`, s.Resolved},
		{`ready`, s.Ready},
	} {
		if !flag.set {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(flag.name)
	}
	return b.String()
}
