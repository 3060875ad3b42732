package preload

import (
	"cmp"
)

// sweep settles every processed item that its ordering constraints permit,
// repeating until a fixed point. Re-entrant calls (e.g. from the ready
// handler of an item settled by this sweep) request another pass, rather
// than recursing. Must be called on the loop.
func (q *Queue) sweep() {
	if q.sweeping {
		q.again = true
		return
	}

	q.sweeping = true
	defer func() { q.sweeping = false }()

	for {
		q.again = false
		settled := q.sweepPass()
		if settled == 0 && !q.again {
			break
		}
	}

	q.checkComplete()
}

// sweepPass walks the items in insertion order, returning the number of
// items settled.
func (q *Queue) sweepPass() (settled int) {
	previousDeferResolved := true

	// items may be appended by listeners, during the pass
	for n := 0; n < q.itemCount(); n++ {
		item := q.itemAt(n)
		deferred := item.config.IsDefer()

		resolvable := !deferred || previousDeferResolved
		if resolvable {
			for _, id := range item.config.Awaiting {
				if !q.awaitables[id] {
					resolvable = false
					break
				}
			}
		}

		if state := item.State(); state.Processed && !state.Resolved && resolvable {
			settled++
			q.settle(item)
		}

		// an earlier deferred item blocks all later ones until it is resolved,
		// not merely processed, so deferred items also settle in order when
		// the earlier one is still awaiting
		if deferred && !item.State().Resolved {
			previousDeferResolved = false
		}
	}

	return settled
}

func (q *Queue) settle(item *Item) {
	item.mu.Lock()
	item.state.Resolved = true
	loaded := item.state.Loaded
	err := item.err
	item.mu.Unlock()

	q.updateProgress()

	if loaded {
		q.logger.Debug().
			Str(`item`, item.String()).
			Log(`preload: item ready`)
		item.fire(EventReady, nil)
		item.promise.resolve(item)
		return
	}

	err = cmp.Or(err, ErrNotProcessed)
	q.logger.Debug().
		Err(err).
		Str(`item`, item.String()).
		Log(`preload: item rejected`)
	item.promise.reject(&LoadError{Item: item, Err: err})
}

// checkComplete fires afterprocess once each time every item is settled.
func (q *Queue) checkComplete() {
	q.mu.Lock()
	total := len(q.items)
	if total == 0 || total == q.reported {
		q.mu.Unlock()
		return
	}
	for _, item := range q.items {
		if !item.State().Resolved {
			q.mu.Unlock()
			return
		}
	}
	q.reported = total
	now := timeNow()
	q.progress.update(now, q.items)
	q.progress.Complete = 100
	q.progress.End = now
	if !q.progress.Start.IsZero() {
		q.progress.Elapsed = now.Sub(q.progress.Start)
	}
	elapsed := q.progress.Elapsed
	q.mu.Unlock()

	q.logger.Info().
		Int64(`items`, int64(total)).
		Dur(`elapsed`, elapsed).
		Log(`preload: all items processed`)

	q.fire(EventAfterProcess, nil)
}

func (q *Queue) itemCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *Queue) itemAt(n int) *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.items[n]
}
