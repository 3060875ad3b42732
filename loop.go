package preload

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

const (
	defaultIngressSize = 256
	defaultBatchSize   = 64
)

// loop is the single goroutine that every dispatch, sweep, and promise
// reaction of a queue runs on. Tasks are submitted through a buffered ingress
// channel, received in batches, and the microtask queue is drained after
// each task.
type loop struct {
	ctx        context.Context
	cancel     context.CancelCauseFunc
	logger     *logiface.Logger[logiface.Event]
	ingress    chan func()
	stop       chan struct{}
	done       chan struct{}
	microtasks []func()
	workers    sync.WaitGroup
	state      fastState
	batchSize  int
	id         atomic.Uint64
	stopOnce   sync.Once
}

func newLoop(logger *logiface.Logger[logiface.Event]) *loop {
	ctx, cancel := context.WithCancelCause(context.Background())
	l := &loop{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		ingress:   make(chan func(), defaultIngressSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		batchSize: defaultBatchSize,
	}
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *loop) run(started chan<- struct{}) {
	defer close(l.done)
	defer l.state.Store(stateTerminated)

	l.id.Store(getGoroutineID())
	close(started)

	batch := make([]func(), 0, l.batchSize)
	for {
		var stopping bool
		batch, stopping = l.receive(batch[:0])
		for i, fn := range batch {
			batch[i] = nil
			l.safeExecute(fn)
			l.drainMicrotasks()
		}
		if stopping {
			return
		}
	}
}

// receive blocks for one task, then takes what is immediately available, up
// to the batch size. Once stop is closed, everything still buffered is
// returned, with stopping set.
func (l *loop) receive(batch []func()) ([]func(), bool) {
	select {
	case fn := <-l.ingress:
		batch = append(batch, fn)
	case <-l.stop:
		for {
			select {
			case fn := <-l.ingress:
				batch = append(batch, fn)
			default:
				return batch, true
			}
		}
	}

	for len(batch) < l.batchSize {
		select {
		case fn := <-l.ingress:
			batch = append(batch, fn)
		default:
			return batch, false
		}
	}

	return batch, false
}

func (l *loop) drainMicrotasks() {
	for len(l.microtasks) != 0 {
		fn := l.microtasks[0]
		l.microtasks[0] = nil
		l.microtasks = l.microtasks[1:]
		l.safeExecute(fn)
	}
	l.microtasks = nil
}

func (l *loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Err(PanicError{Value: r}).
				Log(`preload: task panicked`)
		}
	}()

	fn()
}

// submit enqueues a task, failing if the loop has stopped.
func (l *loop) submit(fn func()) error {
	select {
	case <-l.done:
		return ErrQueueClosed
	default:
	}
	select {
	case l.ingress <- fn:
		return nil
	case <-l.done:
		return ErrQueueClosed
	}
}

// queueMicrotask schedules fn to run after the current task. Off the loop,
// it is submitted as a task instead.
func (l *loop) queueMicrotask(fn func()) {
	if l.isLoopThread() {
		l.microtasks = append(l.microtasks, fn)
		return
	}
	_ = l.submit(fn)
}

// call runs fn on the loop, inline if already on it, otherwise waiting for
// it to complete.
func (l *loop) call(fn func()) error {
	return l.callContext(context.Background(), fn)
}

func (l *loop) callContext(ctx context.Context, fn func()) error {
	if l.isLoopThread() {
		fn()
		return nil
	}

	complete := make(chan struct{})
	if err := l.submit(func() {
		defer close(complete)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-complete:
		return nil
	case <-l.done:
		// the task may still have run during the final drain
		select {
		case <-complete:
			return nil
		default:
			return ErrQueueClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goWorker runs fn on a new goroutine, tracked for shutdown purposes.
func (l *loop) goWorker(fn func(ctx context.Context)) bool {
	if l.state.Load() != stateRunning {
		return false
	}
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn(l.ctx)
	}()
	return true
}

// shutdown cancels in-flight workers, waits for them to report back, then
// stops the loop after draining remaining tasks.
func (l *loop) shutdown(ctx context.Context) error {
	if l.isLoopThread() {
		// can't wait for ourselves
		l.state.TryTransition(stateRunning, stateClosing)
		l.cancel(ErrAborted)
		go l.finish()
		return nil
	}

	l.state.TryTransition(stateRunning, stateClosing)
	l.cancel(ErrAborted)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		l.finish()
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loop) finish() {
	l.workers.Wait()
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *loop) closing() bool {
	return l.state.Load() != stateRunning
}

func (l *loop) isLoopThread() bool {
	id := l.id.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
