package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RootStage is the head of the chain. It owns both workers, records the
// connection state and hands events and notifications to the registered
// hooks on the callback worker.
type RootStage struct {
	stageBase

	connected atomic.Bool

	// closing is set by the final drain task. Only the pipeline worker
	// touches it.
	closing bool

	worker    *worker
	callbacks *worker
	sink      FailureSink
	recorder  Recorder

	mu             sync.RWMutex
	onEvent        func(Event) bool
	onConnected    func()
	onDisconnected func()
}

func newRootStage(log Logger, sink FailureSink, recorder Recorder) *RootStage {
	r := &RootStage{
		stageBase: stageBase{name: "Root", log: log},
		sink:      sink,
		recorder:  recorder,
	}
	r.worker = newWorker("pipeline", func(v any) {
		r.reportFailure(fmt.Errorf("%w: pipeline task: %v", ErrStagePanic, v))
	})
	r.callbacks = newWorker("callbacks", func(v any) {
		log.Error("callback panicked", "panic", v)
		recorder.UnhandledFailure(fmt.Errorf("%w: callback: %v", ErrStagePanic, v))
	})
	return r
}

// Connected reports whether the most recent notification to reach the root
// was "connected". Safe to call from any goroutine.
func (r *RootStage) Connected() bool {
	return r.connected.Load()
}

// SetOnEvent registers the event hook. The hook reports whether something
// took the event. Events arriving with no hook are logged and dropped.
func (r *RootStage) SetOnEvent(fn func(Event) bool) {
	r.mu.Lock()
	r.onEvent = fn
	r.mu.Unlock()
}

// SetOnConnected registers the connected hook.
func (r *RootStage) SetOnConnected(fn func()) {
	r.mu.Lock()
	r.onConnected = fn
	r.mu.Unlock()
}

// SetOnDisconnected registers the disconnected hook.
func (r *RootStage) SetOnDisconnected(fn func()) {
	r.mu.Lock()
	r.onDisconnected = fn
	r.mu.Unlock()
}

// HandleEvent dispatches ev to the event hook exactly once.
func (r *RootStage) HandleEvent(ev Event) {
	r.mu.RLock()
	fn := r.onEvent
	r.mu.RUnlock()

	if fn == nil {
		r.log.Warn("no event handler registered, dropping event", "event", ev.Name())
		r.recorder.EventDispatched(ev.Name(), false)
		return
	}

	r.callback(func() {
		r.recorder.EventDispatched(ev.Name(), fn(ev))
	})
}

// OnConnected records the state and raises the connected hook.
func (r *RootStage) OnConnected() {
	r.connected.Store(true)
	r.recorder.ConnectionStateChanged(true)
	r.log.Info("pipeline connected")

	r.mu.RLock()
	fn := r.onConnected
	r.mu.RUnlock()
	if fn != nil {
		r.callback(fn)
	}
}

// OnDisconnected records the state and raises the disconnected hook.
func (r *RootStage) OnDisconnected() {
	r.connected.Store(false)
	r.recorder.ConnectionStateChanged(false)
	r.log.Info("pipeline disconnected")

	r.mu.RLock()
	fn := r.onDisconnected
	r.mu.RUnlock()
	if fn != nil {
		r.callback(fn)
	}
}

// submit queues op for execution from the top of the chain. If the pipeline
// has been closed the operation fails with ErrPipelineClosed on the calling
// goroutine.
func (r *RootStage) submit(op Operation) {
	if !r.worker.submit(func() { runOp(r, op) }) {
		r.completeOp(op, ErrPipelineClosed)
	}
}

// post queues task on the pipeline worker and reports whether it was
// accepted. Tasks posted after Close are dropped: by then the close drain has
// already failed every operation they could finish.
func (r *RootStage) post(task func()) bool {
	if !r.worker.submit(task) {
		r.log.Debug("pipeline closed, dropping task")
		return false
	}
	return true
}

// callback queues fn on the callback worker, running it inline once that
// worker has been closed.
func (r *RootStage) callback(fn func()) {
	if !r.callbacks.submit(fn) {
		fn()
	}
}

// completeOp fires op's callback at most once. A second completion is
// reported to the failure sink and does not invoke the callback again.
func (r *RootStage) completeOp(op Operation, err error) {
	s := op.state()
	if s.completed {
		r.reportFailure(fmt.Errorf("%w: %s (second error: %v)", ErrAlreadyCompleted, op.Name(), err))
		return
	}
	s.completed = true
	s.err = err

	cb := s.callback
	s.callback = nil
	if cb == nil {
		return
	}

	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if f, ok := v.(Fatal); ok {
			panic(f)
		}
		r.log.Error("operation callback panicked", "op", op.Name(), "panic", v)
		r.reportFailure(fmt.Errorf("%w: callback for %s: %v", ErrStagePanic, op.Name(), v))
	}()
	cb(op, err)
}

// reportFailure sends err to the failure sink on the callback worker.
func (r *RootStage) reportFailure(err error) {
	r.log.Error("unhandled failure", "error", err)
	r.recorder.UnhandledFailure(err)
	r.callback(func() { r.sink.Report(err) })
}

// aborter is implemented by stages that hold operations across worker
// tasks. abort completes every held operation with err.
type aborter interface {
	abort(err error)
}

// close drains and stops both workers. The last pipeline task fails every
// operation still held by a stage with ErrPipelineClosed, so each submitted
// operation completes exactly once. Pipeline tasks run first so that
// callbacks they queue still reach the callback worker.
func (r *RootStage) close() {
	r.worker.closeWith(r.drain)
	r.callbacks.close()
}

func (r *RootStage) drain() {
	r.closing = true
	for s := r.next; s != nil; s = s.base().next {
		if a, ok := s.(aborter); ok {
			a.abort(ErrPipelineClosed)
		}
	}
}
