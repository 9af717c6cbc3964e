package pipeline

import (
	"fmt"
)

// Stage is one link in the pipeline chain.
//
// Every method runs on the pipeline worker. A stage receiving an operation
// must forward it, replace it with new operations, or complete it. A stage
// receiving an event must forward it upward or consume it.
type Stage interface {
	Name() string
	ExecuteOp(op Operation)
	HandleEvent(ev Event)
	OnConnected()
	OnDisconnected()

	base() *stageBase
}

// stageBase holds the chain links and provides the default behaviour:
// forward every operation down and every event and notification up.
type stageBase struct {
	name string
	prev Stage
	next Stage
	root *RootStage
	log  Logger
}

func (b *stageBase) base() *stageBase { return b }

// Name returns the stage name used in logs.
func (b *stageBase) Name() string { return b.name }

// ExecuteOp forwards op to the next stage.
func (b *stageBase) ExecuteOp(op Operation) { b.sendOpDown(op) }

// HandleEvent forwards ev to the previous stage.
func (b *stageBase) HandleEvent(ev Event) { b.sendEventUp(ev) }

// OnConnected forwards the notification to the previous stage.
func (b *stageBase) OnConnected() { b.connectedUp() }

// OnDisconnected forwards the notification to the previous stage.
func (b *stageBase) OnDisconnected() { b.disconnectedUp() }

func (b *stageBase) sendOpDown(op Operation) {
	if b.next == nil {
		b.complete(op, fmt.Errorf("%w: %s at %s", ErrNoNextStage, op.Name(), b.name))
		return
	}
	runOp(b.next, op)
}

func (b *stageBase) sendEventUp(ev Event) {
	if b.prev == nil {
		b.log.Warn("event reached the top of the pipeline, dropping",
			"stage", b.name,
			"event", ev.Name(),
		)
		return
	}
	runEvent(b.prev, ev)
}

func (b *stageBase) connectedUp() {
	if b.prev != nil {
		b.prev.OnConnected()
	}
}

func (b *stageBase) disconnectedUp() {
	if b.prev != nil {
		b.prev.OnDisconnected()
	}
}

// complete finishes op on behalf of this stage.
func (b *stageBase) complete(op Operation, err error) {
	b.root.completeOp(op, err)
}

// completes returns a callback that completes orig with the result of the
// operation it is attached to.
func (b *stageBase) completes(orig Operation) Callback {
	return func(_ Operation, err error) {
		b.complete(orig, err)
	}
}

// post queues task on the pipeline worker. Transport callbacks use it to
// cross onto the worker before touching stage state.
func (b *stageBase) post(task func()) bool {
	return b.root.post(task)
}

func (b *stageBase) reportFailure(err error) {
	b.root.reportFailure(err)
}

// runOp executes op on s, converting a panic into a failed completion.
// Operations that have already completed are never forwarded.
func runOp(s Stage, op Operation) {
	b := s.base()
	if op.state().completed {
		b.log.Warn("completed operation forwarded, ignoring",
			"stage", b.name,
			"op", op.Name(),
		)
		return
	}
	if b.root != nil && b.root.closing {
		b.complete(op, ErrPipelineClosed)
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
		err := fmt.Errorf("%w: %s in %s: %v", ErrStagePanic, op.Name(), b.name, v)
		b.log.Error("stage panicked executing operation",
			"stage", b.name,
			"op", op.Name(),
			"panic", v,
		)
		if op.state().completed {
			b.reportFailure(err)
			return
		}
		b.complete(op, err)
	}()

	s.ExecuteOp(op)
}

// runEvent delivers ev to s. A panic while handling an event has no operation
// to attach to, so it goes to the failure sink.
func runEvent(s Stage, ev Event) {
	b := s.base()
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if f, ok := v.(Fatal); ok {
			panic(f)
		}
		b.log.Error("stage panicked handling event",
			"stage", b.name,
			"event", ev.Name(),
			"panic", v,
		)
		b.reportFailure(fmt.Errorf("%w: %s event in %s: %v", ErrStagePanic, ev.Name(), b.name, v))
	}()

	s.HandleEvent(ev)
}

// link wires stages into a chain in the given order. The first stage must be
// the root.
func link(root *RootStage, stages ...Stage) {
	prev := Stage(root)
	root.root = root
	for _, s := range stages {
		b := s.base()
		b.root = root
		b.log = root.log
		b.prev = prev
		prev.base().next = s
		prev = s
	}
}
