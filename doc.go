// Package preload coordinates a set of independently loading resources
// (scripts, stylesheets, fonts, JSON, images, plugins), settling each one only
// once its ordering constraints are satisfied.
//
// # Architecture
//
// A [Queue] owns an ordered list of [Item] values, and a single loop
// goroutine. Every event dispatch, every resolution sweep, and every promise
// reaction runs on that goroutine, so the scheduling model is cooperative and
// single-threaded, even though resource adapters perform their I/O on other
// goroutines.
//
// Events are dispatched by a [Dispatcher], with DOM-like semantics: "pre"
// listeners, then the owning component's built-in handler (skipped if the
// default was prevented), then "post" listeners, then bubbling to the parent
// (Item to Queue, Queue to an optional user provided Dispatcher).
//
// # Ordering
//
// Two mechanisms constrain when an item settles:
//   - Defer: items fetched with defer enabled settle in insertion order,
//     relative to each other.
//   - Awaiting: an item settles only after every id it awaits has reached
//     the ready state.
//
// Items with neither constraint settle as soon as they are processed. Cycles
// and references to ids that never become ready are not detected, the
// affected items simply never settle.
//
// # Usage
//
//	q, err := preload.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	lib, _ := q.Fetch(`script`, &preload.Config{ID: `lib`, URL: libURL})
//	app, _ := q.Fetch(`script`, &preload.Config{URL: appURL, Awaiting: []string{`lib`}})
//
//	if _, err := app.Promise().Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	_ = lib
//
// # Adapters
//
// Each resource kind is handled by an [Adapter], constructed per item by an
// [AdapterFactory]. Built-in kinds are fetched over HTTP, see [Fetcher].
// Scripts and plugins are evaluated in a shared goja runtime, see
// [Queue.Runtime].
package preload
