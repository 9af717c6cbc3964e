package pipeline

import (
	"sync"
)

// worker runs tasks one at a time, in submission order, on its own goroutine.
//
// The queue is unbounded so that submit never blocks: transport callbacks and
// completion callbacks may submit from any goroutine, including the worker
// itself.
type worker struct {
	name    string
	onPanic func(v any)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newWorker(name string, onPanic func(v any)) *worker {
	w := &worker{
		name:    name,
		onPanic: onPanic,
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// submit queues task. It returns false if the worker has been closed, in
// which case task is not run.
func (w *worker) submit(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.queue = append(w.queue, task)
	w.cond.Signal()
	return true
}

// close stops accepting tasks, runs everything already queued and waits for
// the goroutine to exit. It must not be called from a task on this worker.
func (w *worker) close() { w.closeWith(nil) }

// closeWith is close with final queued as the last task. No task submitted
// concurrently can run after final.
func (w *worker) closeWith(final func()) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	if final != nil {
		w.queue = append(w.queue, final)
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()

	<-w.done
}

func (w *worker) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.runTask(task)
	}
}

func (w *worker) runTask(task func()) {
	defer func() {
		if v := recover(); v != nil {
			if f, ok := v.(Fatal); ok {
				panic(f)
			}
			if w.onPanic != nil {
				w.onPanic(v)
			}
		}
	}()
	task()
}
