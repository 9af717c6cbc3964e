package pipeline

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestPipeline(t *testing.T, mt *mockTransport) (*Pipeline, *mockSASProvider, *recordingSink) {
	t.Helper()
	provider := newMockSASProvider()
	sink := &recordingSink{}
	p, err := New(provider, Options{
		TransportFactory: mt.factory(),
		FailureSink:      sink,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p, provider, sink
}

// requestIDFromTopic extracts $rid from a published twin request topic.
func requestIDFromTopic(t *testing.T, topic string) string {
	t.Helper()
	_, query, ok := strings.Cut(topic, "?")
	if !ok {
		t.Fatalf("topic %q has no query", topic)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("parsing %q: %v", topic, err)
	}
	return values.Get("$rid")
}

func connectPipeline(t *testing.T, p *Pipeline, mt *mockTransport) {
	t.Helper()
	cb, ch := errFunc()
	p.Connect(cb)
	waitFor(t, "connect", func() bool { return mt.connectCount() > 0 })
	mt.fireConnected()
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_ConfiguresTransport(t *testing.T) {
	mt := &mockTransport{}
	newTestPipeline(t, mt)

	if mt.cfg.ClientID != "thermostat-1" {
		t.Errorf("ClientID = %q", mt.cfg.ClientID)
	}
	if mt.cfg.Hostname != "hub.example.net" {
		t.Errorf("Hostname = %q", mt.cfg.Hostname)
	}
	wantUser := "hub.example.net/thermostat-1/?api-version=2018-06-30&DeviceClientType=graylogic-device"
	if mt.cfg.Username != wantUser {
		t.Errorf("Username = %q, want %q", mt.cfg.Username, wantUser)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider AuthProvider
		opts     Options
		wantErr  error
	}{
		{
			name:     "missing factory",
			provider: newMockSASProvider(),
		},
		{
			name:     "unsupported provider",
			provider: struct{ AuthProvider }{newMockSASProvider()},
			opts:     Options{TransportFactory: (&mockTransport{}).factory()},
			wantErr:  ErrInvalidAuthProvider,
		},
		{
			name:     "transport construction fails",
			provider: newMockSASProvider(),
			opts: Options{TransportFactory: func(TransportConfig) (Transport, error) {
				return nil, errBoom
			}},
			wantErr: errBoom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.provider, tt.opts)
			if err == nil {
				p.Close()
				t.Fatal("New() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Connection Lifecycle
// =============================================================================

func TestPipeline_ConnectAndDisconnect(t *testing.T) {
	mt := &mockTransport{}
	p, provider, _ := newTestPipeline(t, mt)

	var mu sync.Mutex
	var states []bool
	p.SetHandlers(Handlers{
		OnConnected:    func() { mu.Lock(); states = append(states, true); mu.Unlock() },
		OnDisconnected: func() { mu.Lock(); states = append(states, false); mu.Unlock() },
	})

	connectPipeline(t, p, mt)
	if !p.Connected() {
		t.Error("Connected() = false after connect")
	}
	if got := mt.connectPasswords[0]; got != provider.token {
		t.Errorf("connect password = %q, want the SAS token", got)
	}

	cb, ch := errFunc()
	p.Disconnect(cb)
	waitFor(t, "disconnect", func() bool { return mt.disconnectCount() == 1 })
	mt.fireDisconnected(nil)
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if p.Connected() {
		t.Error("Connected() = true after disconnect")
	}

	waitFor(t, "hooks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	})
	if !states[0] || states[1] {
		t.Errorf("hook order = %v, want [true false]", states)
	}
}

func TestPipeline_DisconnectWithCauseFails(t *testing.T) {
	mt := &mockTransport{}
	p, _, sink := newTestPipeline(t, mt)
	connectPipeline(t, p, mt)

	cb, ch := errFunc()
	p.Disconnect(cb)
	waitFor(t, "disconnect", func() bool { return mt.disconnectCount() == 1 })
	mt.fireDisconnected(errBoom)

	err := waitErr(t, ch)
	var dropped *ConnectionDroppedError
	if !errors.As(err, &dropped) || !errors.Is(dropped.Cause, errBoom) {
		t.Errorf("Disconnect() error = %v, want connection dropped wrapping cause", err)
	}
	if got := sink.reported(); len(got) != 0 {
		t.Errorf("sink got %v, want nothing", got)
	}
}

func TestPipeline_ConnectFailure(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	cb, ch := errFunc()
	p.Connect(cb)
	waitFor(t, "connect", func() bool { return mt.connectCount() == 1 })
	mt.fireConnectionFailure(errBoom)

	if err := waitErr(t, ch); !errors.Is(err, errBoom) {
		t.Errorf("Connect() error = %v, want cause", err)
	}
	if p.Connected() {
		t.Error("Connected() = true after failure")
	}
}

func TestPipeline_UnexpectedFailuresReachSink(t *testing.T) {
	mt := &mockTransport{}
	p, _, sink := newTestPipeline(t, mt)
	connectPipeline(t, p, mt)

	mt.fireConnectionFailure(errBoom)
	waitFor(t, "failure report", func() bool { return len(sink.reported()) == 1 })
	flush(t, p.root)
	if n := len(sink.reported()); n != 1 {
		t.Fatalf("connection failure reported %d times, want 1", n)
	}
	if got := sink.reported()[0]; !errors.Is(got, errBoom) {
		t.Errorf("reported %v, want the cause", got)
	}

	mt.fireDisconnected(errBoom)
	waitFor(t, "drop report", func() bool { return len(sink.reported()) == 2 })
	flush(t, p.root)
	if n := len(sink.reported()); n != 2 {
		t.Fatalf("sink got %d reports, want 2", n)
	}
	if got := sink.reported()[1]; !errors.Is(got, ErrConnectionDropped) || !errors.Is(got, errBoom) {
		t.Errorf("reported %v, want connection dropped wrapping cause", got)
	}
}

func TestPipeline_ConnectThenDisconnectAreSerialized(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	connectCB, connectCh := errFunc()
	disconnectCB, disconnectCh := errFunc()
	p.Connect(connectCB)
	p.Disconnect(disconnectCB)
	waitFor(t, "connect", func() bool { return mt.connectCount() == 1 })

	if n := mt.disconnectCount(); n != 0 {
		t.Fatalf("disconnect issued while connect in flight (%d calls)", n)
	}

	mt.fireConnected()
	if err := waitErr(t, connectCh); err != nil {
		t.Fatalf("Connect() error = %v, want nil", err)
	}
	waitFor(t, "disconnect", func() bool { return mt.disconnectCount() == 1 })
	mt.fireDisconnected(nil)
	if err := waitErr(t, disconnectCh); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestPipeline_SendTelemetryConnectsFirst(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	msg := NewMessage([]byte(`{"temp":21.5}`))
	msg.ContentType = "application/json"

	cb, ch := errFunc()
	p.SendTelemetry(msg, cb)
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("SendTelemetry() error = %v", err)
	}

	if n := mt.connectCount(); n != 1 {
		t.Errorf("connect calls = %d, want 1", n)
	}
	pubs := mt.publishes()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	want := "devices/thermostat-1/messages/events/%24.ct=application%2Fjson"
	if pubs[0].topic != want {
		t.Errorf("topic = %q, want %q", pubs[0].topic, want)
	}
}

func TestPipeline_SendTelemetryFailedAutoConnect(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	cb, ch := errFunc()
	p.SendTelemetry(NewMessage([]byte("x")), cb)
	waitFor(t, "connect", func() bool { return mt.connectCount() == 1 })
	mt.fireConnectionFailure(errBoom)

	if err := waitErr(t, ch); !errors.Is(err, errBoom) {
		t.Errorf("SendTelemetry() error = %v, want connect failure", err)
	}
	if n := len(mt.publishes()); n != 0 {
		t.Errorf("publish called %d times, want 0", n)
	}
}

func TestPipeline_GetTwin(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	enableCB, enableCh := errFunc()
	if err := p.EnableFeature(FeatureTwin, enableCB); err != nil {
		t.Fatalf("EnableFeature() error = %v", err)
	}
	if err := waitErr(t, enableCh); err != nil {
		t.Fatalf("EnableFeature() completion = %v", err)
	}
	if subs := mt.subscriptions(); len(subs) != 1 || subs[0] != "$iothub/twin/res/#" {
		t.Errorf("subscriptions = %v", subs)
	}

	type result struct {
		twin *Twin
		err  error
	}
	results := make(chan result, 1)
	p.GetTwin(func(twin *Twin, err error) { results <- result{twin, err} })

	waitFor(t, "twin request", func() bool { return len(mt.publishes()) == 1 })
	pub := mt.publishes()[0]
	if !strings.HasPrefix(pub.topic, "$iothub/twin/GET/?$rid=") {
		t.Fatalf("topic = %q", pub.topic)
	}
	rid := requestIDFromTopic(t, pub.topic)

	mt.deliver("$iothub/twin/res/200/?$rid="+rid, []byte(`{"desired":{"mode":"eco"},"reported":{}}`))

	select {
	case r := <-results:
		if r.err != nil {
			t.Fatalf("GetTwin() error = %v", r.err)
		}
		if r.twin.Desired["mode"] != "eco" {
			t.Errorf("twin = %+v", r.twin)
		}
	case <-time.After(testTimeout):
		t.Fatal("GetTwin callback not called")
	}

	var pending int
	coord := findCoordinator(p)
	onWorker(t, p.root, func() { pending = coord.pendingCount() })
	if pending != 0 {
		t.Errorf("correlation table has %d entries, want 0", pending)
	}
}

func TestPipeline_GetTwinFailsOnDisconnect(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	errs := make(chan error, 1)
	p.GetTwin(func(_ *Twin, err error) { errs <- err })
	waitFor(t, "twin request", func() bool { return len(mt.publishes()) == 1 })

	mt.fireDisconnected(errBoom)

	if err := waitErr(t, errs); !errors.Is(err, ErrConnectionDropped) {
		t.Errorf("GetTwin() error = %v, want ErrConnectionDropped", err)
	}
}

func TestPipeline_PatchReportedProperties(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	cb, ch := errFunc()
	p.PatchTwinReportedProperties(TwinPatch{"firmware": "1.2.0"}, cb)
	waitFor(t, "patch request", func() bool { return len(mt.publishes()) == 1 })

	pub := mt.publishes()[0]
	if !strings.HasPrefix(pub.topic, "$iothub/twin/PATCH/properties/reported/?$rid=") {
		t.Fatalf("topic = %q", pub.topic)
	}
	if string(pub.payload) != `{"firmware":"1.2.0"}` {
		t.Errorf("payload = %s", pub.payload)
	}

	mt.deliver("$iothub/twin/res/400/?$rid="+requestIDFromTopic(t, pub.topic), nil)

	var svcErr *ServiceError
	if err := waitErr(t, ch); !errors.As(err, &svcErr) || svcErr.StatusCode != 400 {
		t.Errorf("error = %v, want ServiceError 400", err)
	}
}

func TestPipeline_SendMethodResponse(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	req := &MethodRequest{RequestID: "9", Name: "reboot"}
	cb, ch := errFunc()
	p.SendMethodResponse(NewMethodResponse(req, 200, map[string]bool{"ok": true}), cb)
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("SendMethodResponse() error = %v", err)
	}

	pub := mt.publishes()[0]
	if pub.topic != "$iothub/methods/res/200/?$rid=9" || string(pub.payload) != `{"ok":true}` {
		t.Errorf("published %q %s", pub.topic, pub.payload)
	}
}

// =============================================================================
// Features
// =============================================================================

func TestPipeline_EnableFeatureRejectsUnknownName(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	called := false
	err := p.EnableFeature(Feature("telepathy"), func(error) { called = true })
	if !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("EnableFeature() error = %v, want ErrInvalidFeature", err)
	}
	if err := p.DisableFeature(Feature(""), nil); !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("DisableFeature() error = %v, want ErrInvalidFeature", err)
	}

	flush(t, p.root)
	if called {
		t.Error("callback called for rejected feature")
	}
	if n := mt.connectCount(); n != 0 {
		t.Errorf("rejected feature reached the transport (%d connects)", n)
	}
}

func TestPipeline_FeatureEnabledTracksOperations(t *testing.T) {
	mt := &mockTransport{autoConnect: true, autoAck: true}
	p, _, _ := newTestPipeline(t, mt)

	for _, f := range AllFeatures {
		if p.FeatureEnabled(f) {
			t.Errorf("%s enabled before EnableFeature", f)
		}
	}

	cb, ch := errFunc()
	if err := p.EnableFeature(FeatureMethods, cb); err != nil {
		t.Fatal(err)
	}
	if err := waitErr(t, ch); err != nil {
		t.Fatal(err)
	}
	if !p.FeatureEnabled(FeatureMethods) {
		t.Error("methods not enabled")
	}

	if err := p.DisableFeature(FeatureMethods, cb); err != nil {
		t.Fatal(err)
	}
	if err := waitErr(t, ch); err != nil {
		t.Fatal(err)
	}
	if p.FeatureEnabled(FeatureMethods) {
		t.Error("methods still enabled")
	}
}

func TestPipeline_FailedEnableRevertsFeature(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	cb, ch := errFunc()
	if err := p.EnableFeature(FeatureC2D, cb); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connect", func() bool { return mt.connectCount() == 1 })
	mt.fireConnectionFailure(errBoom)

	if err := waitErr(t, ch); !errors.Is(err, errBoom) {
		t.Fatalf("EnableFeature() completion = %v", err)
	}
	if p.FeatureEnabled(FeatureC2D) {
		t.Error("c2d still enabled after failed subscribe")
	}
}

func TestPipeline_FailedDisableRestoresFeature(t *testing.T) {
	mt := &mockTransport{autoConnect: true}
	p, _, _ := newTestPipeline(t, mt)

	cb, ch := errFunc()
	if err := p.EnableFeature(FeatureMethods, cb); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscribe", func() bool { return mt.pendingAcks() == 1 })
	mt.ackAll(nil)
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("EnableFeature() completion = %v", err)
	}

	if err := p.DisableFeature(FeatureMethods, cb); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unsubscribe", func() bool { return mt.pendingAcks() == 1 })
	if p.FeatureEnabled(FeatureMethods) {
		t.Error("methods enabled while unsubscribe in flight")
	}
	mt.ackAll(errBoom)

	if err := waitErr(t, ch); !errors.Is(err, errBoom) {
		t.Fatalf("DisableFeature() completion = %v, want ack error", err)
	}
	if !p.FeatureEnabled(FeatureMethods) {
		t.Error("methods disabled after failed unsubscribe")
	}
}

// =============================================================================
// Inbound Dispatch
// =============================================================================

func TestPipeline_DispatchesInbound(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	c2d := make(chan *Message, 1)
	methods := make(chan *MethodRequest, 1)
	patches := make(chan TwinPatch, 1)
	p.SetHandlers(Handlers{
		OnC2DMessage:    func(m *Message) { c2d <- m },
		OnMethodRequest: func(r *MethodRequest) { methods <- r },
		OnTwinPatch:     func(tp TwinPatch) { patches <- tp },
	})

	mt.deliver("devices/thermostat-1/messages/devicebound/", []byte("hello"))
	mt.deliver("$iothub/methods/POST/reboot/?$rid=3", []byte("{}"))
	mt.deliver("$iothub/twin/PATCH/properties/desired/?$version=2", []byte(`{"mode":"away"}`))
	flush(t, p.root)

	if m := <-c2d; string(m.Data) != "hello" {
		t.Errorf("c2d data = %q", m.Data)
	}
	if r := <-methods; r.Name != "reboot" || r.RequestID != "3" {
		t.Errorf("method = %+v", r)
	}
	if tp := <-patches; tp["mode"] != "away" {
		t.Errorf("patch = %v", tp)
	}
}

func TestPipeline_DropsInboundWithoutHandler(t *testing.T) {
	mt := &mockTransport{}
	p, _, sink := newTestPipeline(t, mt)

	mt.deliver("devices/thermostat-1/messages/devicebound/", []byte("hello"))
	mt.deliver("unrelated/topic", []byte("x"))
	flush(t, p.root)

	if got := sink.reported(); len(got) != 0 {
		t.Errorf("sink got %v, want nothing", got)
	}
}

func TestPipeline_RecordsWhetherEventsWereHandled(t *testing.T) {
	tests := []struct {
		name     string
		handlers Handlers
		want     bool
	}{
		{
			name: "no handler",
			want: false,
		},
		{
			name:     "handler for another event",
			handlers: Handlers{OnTwinPatch: func(TwinPatch) {}},
			want:     false,
		},
		{
			name:     "c2d handler",
			handlers: Handlers{OnC2DMessage: func(*Message) {}},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &mockTransport{}
			rec := &eventRecorder{}
			p, err := New(newMockSASProvider(), Options{
				TransportFactory: mt.factory(),
				Recorder:         rec,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			t.Cleanup(p.Close)
			p.SetHandlers(tt.handlers)

			mt.deliver("devices/thermostat-1/messages/devicebound/", []byte("hello"))
			flush(t, p.root)

			got := rec.dispatched()
			if len(got) != 1 {
				t.Fatalf("recorded %d dispatches, want 1: %v", len(got), got)
			}
			if got[0].event != "C2DMessage" || got[0].handled != tt.want {
				t.Errorf("recorded %+v, want C2DMessage handled=%v", got[0], tt.want)
			}
		})
	}
}

// =============================================================================
// Token Renewal And Close
// =============================================================================

func TestPipeline_TokenRenewalReconnects(t *testing.T) {
	mt := &mockTransport{}
	p, provider, _ := newTestPipeline(t, mt)
	connectPipeline(t, p, mt)

	provider.renew("token-2")
	waitFor(t, "reconnect", func() bool { return mt.reconnectCount() == 1 })

	mt.mu.Lock()
	got := mt.reconnectPasswords[0]
	mt.mu.Unlock()
	if got != "token-2" {
		t.Errorf("reconnect password = %q, want token-2", got)
	}
}

func TestPipeline_CloseRejectsOperations(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)
	p.Close()

	cb, ch := errFunc()
	p.Connect(cb)
	if err := waitErr(t, ch); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrPipelineClosed", err)
	}
}

func TestPipeline_CloseFailsInFlightOperations(t *testing.T) {
	mt := &mockTransport{}
	p, _, sink := newTestPipeline(t, mt)
	connectPipeline(t, p, mt)

	sendCB, sendCh := errFunc()
	p.SendTelemetry(NewMessage([]byte("x")), sendCB)

	twinErrs := make(chan error, 2)
	p.GetTwin(func(_ *Twin, err error) { twinErrs <- err })

	waitFor(t, "publishes", func() bool { return mt.pendingAcks() == 2 })
	expectNoCompletion(t, sendCh)

	p.Close()

	if err := waitErr(t, sendCh); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("SendTelemetry() error = %v, want ErrPipelineClosed", err)
	}
	if err := waitErr(t, twinErrs); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("GetTwin() error = %v, want ErrPipelineClosed", err)
	}

	mt.ackAll(nil)
	expectNoCompletion(t, sendCh)
	expectNoCompletion(t, twinErrs)
	if got := sink.reported(); len(got) != 0 {
		t.Errorf("sink got %v, want nothing", got)
	}
}

func TestPipeline_CloseFailsQueuedOperations(t *testing.T) {
	mt := &mockTransport{}
	p, _, _ := newTestPipeline(t, mt)

	connectCB, connectCh := errFunc()
	disconnectCB, disconnectCh := errFunc()
	sendCB, sendCh := errFunc()

	// Connect is pending at the transport, Disconnect queues behind it and
	// SendTelemetry waits for the connection it triggered.
	p.Connect(connectCB)
	p.Disconnect(disconnectCB)
	p.SendTelemetry(NewMessage([]byte("x")), sendCB)
	waitFor(t, "connect", func() bool { return mt.connectCount() == 1 })
	flush(t, p.root)

	p.Close()

	for name, ch := range map[string]chan error{
		"Connect":       connectCh,
		"Disconnect":    disconnectCh,
		"SendTelemetry": sendCh,
	} {
		if err := waitErr(t, ch); !errors.Is(err, ErrPipelineClosed) {
			t.Errorf("%s() error = %v, want ErrPipelineClosed", name, err)
		}
		expectNoCompletion(t, ch)
	}

	mt.fireConnected()
	if n := mt.disconnectCount(); n != 0 {
		t.Errorf("disconnect issued after Close (%d calls)", n)
	}
	if n := mt.connectCount(); n != 1 {
		t.Errorf("connect calls = %d, want 1", n)
	}
}

func findCoordinator(p *Pipeline) *coordinatorStage {
	for s := p.root.next; s != nil; s = s.base().next {
		if c, ok := s.(*coordinatorStage); ok {
			return c
		}
	}
	return nil
}
