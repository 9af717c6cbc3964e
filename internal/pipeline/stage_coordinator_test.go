package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func newCoordinatorChain(t *testing.T) (*RootStage, *coordinatorStage, *captureStage) {
	t.Helper()
	coord := newCoordinatorStage()
	n := 0
	coord.newID = func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
	capture := newCaptureStage()
	root, _ := newTestChain(t, coord, capture)
	return root, coord, capture
}

func pendingRequests(t *testing.T, root *RootStage, coord *coordinatorStage) int {
	t.Helper()
	var n int
	onWorker(t, root, func() { n = coord.pendingCount() })
	return n
}

func TestCoordinator_StampsAndCompletes(t *testing.T) {
	root, coord, capture := newCoordinatorChain(t)

	cb, ch := errCallback()
	req := &SendRequestAndWaitOp{
		opState:          newOpState(cb),
		RequestType:      "twin",
		Method:           "GET",
		ResourceLocation: "/",
	}
	root.submit(req)
	flush(t, root)

	sent, ok := lastOp(t, capture).(*SendRequestOp)
	if !ok {
		t.Fatal("next stage did not get SendRequest")
	}
	if sent.RequestID != "req-1" || sent.Method != "GET" || sent.ResourceLocation != "/" {
		t.Errorf("sent = %+v", sent)
	}
	expectNoCompletion(t, ch)
	if n := pendingRequests(t, root, coord); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	onWorker(t, root, func() {
		capture.sendEventUp(&ResponseEvent{RequestID: "req-1", StatusCode: 200, Body: []byte(`{}`)})
	})

	if err := waitErr(t, ch); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if req.StatusCode != 200 || string(req.Response) != `{}` {
		t.Errorf("response = %d %q", req.StatusCode, req.Response)
	}
	if n := pendingRequests(t, root, coord); n != 0 {
		t.Errorf("pending = %d after response, want 0", n)
	}
}

func TestCoordinator_UniqueIDs(t *testing.T) {
	coord := newCoordinatorStage()
	capture := newCaptureStage()
	root, _ := newTestChain(t, coord, capture)

	for i := 0; i < 10; i++ {
		root.submit(&SendRequestAndWaitOp{opState: newOpState(nil), RequestType: "twin"})
	}
	flush(t, root)

	seen := make(map[string]bool)
	for _, op := range capture.captured() {
		id := op.(*SendRequestOp).RequestID
		if id == "" || seen[id] {
			t.Fatalf("request id %q empty or reused", id)
		}
		seen[id] = true
	}
}

func TestCoordinator_DropsUnknownResponse(t *testing.T) {
	root, coord, capture := newCoordinatorChain(t)

	cb, ch := errCallback()
	root.submit(&SendRequestAndWaitOp{opState: newOpState(cb), RequestType: "twin"})
	flush(t, root)

	events := make(chan Event, 1)
	root.SetOnEvent(func(ev Event) bool {
		events <- ev
		return true
	})

	onWorker(t, root, func() {
		capture.sendEventUp(&ResponseEvent{RequestID: "late", StatusCode: 200})
	})
	flush(t, root)

	expectNoCompletion(t, ch)
	if len(events) != 0 {
		t.Error("unknown response was passed up")
	}
	if n := pendingRequests(t, root, coord); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestCoordinator_SendFailureRemovesEntry(t *testing.T) {
	root, coord, capture := newCoordinatorChain(t)
	capture.result = func(Operation) error { return errBoom }

	cb, ch := errCallback()
	root.submit(&SendRequestAndWaitOp{opState: newOpState(cb), RequestType: "twin"})

	if err := waitErr(t, ch); !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want send error", err)
	}
	if n := pendingRequests(t, root, coord); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestCoordinator_DisconnectFailsPending(t *testing.T) {
	root, coord, capture := newCoordinatorChain(t)
	capture.hold = true

	cb1, ch1 := errCallback()
	cb2, ch2 := errCallback()
	root.submit(&SendRequestAndWaitOp{opState: newOpState(cb1), RequestType: "twin"})
	root.submit(&SendRequestAndWaitOp{opState: newOpState(cb2), RequestType: "twin"})
	flush(t, root)

	onWorker(t, root, func() { capture.disconnectedUp() })

	for _, ch := range []chan error{ch1, ch2} {
		if err := waitErr(t, ch); !errors.Is(err, ErrConnectionDropped) {
			t.Errorf("err = %v, want ErrConnectionDropped", err)
		}
	}
	if n := pendingRequests(t, root, coord); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if root.Connected() {
		t.Error("disconnect did not reach the root")
	}
}

func TestCoordinator_ForwardsOtherTraffic(t *testing.T) {
	root, _, capture := newCoordinatorChain(t)

	events := make(chan Event, 1)
	root.SetOnEvent(func(ev Event) bool {
		events <- ev
		return true
	})

	cb, ch := errCallback()
	root.submit(&PublishOp{opState: newOpState(cb), Topic: "t"})
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok := lastOp(t, capture).(*PublishOp); !ok {
		t.Error("publish not forwarded")
	}

	onWorker(t, root, func() {
		capture.sendEventUp(&C2DMessageEvent{Message: NewMessage(nil)})
	})
	flush(t, root)
	if len(events) != 1 {
		t.Error("c2d event not forwarded")
	}
}
