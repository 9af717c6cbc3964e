package inbox

import (
	"sync"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// DefaultMethod is the key of the catch-all method inbox.
const DefaultMethod = ""

// Manager routes inbound data to keyed inboxes, creating them on first use.
type Manager struct {
	c2d         *Inbox[*pipeline.Message]
	twinPatches *Inbox[pipeline.TwinPatch]

	mu      sync.Mutex
	inputs  map[string]*Inbox[*pipeline.Message]
	methods map[string]*Inbox[*pipeline.MethodRequest]
}

// NewManager creates a manager with the singleton inboxes and the default
// method inbox.
func NewManager() *Manager {
	return &Manager{
		c2d:         New[*pipeline.Message](),
		twinPatches: New[pipeline.TwinPatch](),
		inputs:      make(map[string]*Inbox[*pipeline.Message]),
		methods: map[string]*Inbox[*pipeline.MethodRequest]{
			DefaultMethod: New[*pipeline.MethodRequest](),
		},
	}
}

// C2DInbox returns the cloud-to-device message inbox.
func (m *Manager) C2DInbox() *Inbox[*pipeline.Message] {
	return m.c2d
}

// TwinPatchInbox returns the desired-properties patch inbox.
func (m *Manager) TwinPatchInbox() *Inbox[pipeline.TwinPatch] {
	return m.twinPatches
}

// InputInbox returns the inbox for the named module input.
func (m *Manager) InputInbox(name string) *Inbox[*pipeline.Message] {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.inputs[name]
	if !ok {
		in = New[*pipeline.Message]()
		m.inputs[name] = in
	}
	return in
}

// MethodInbox returns the inbox for the named method. Requests for methods
// that have no inbox of their own go to MethodInbox(DefaultMethod).
func (m *Manager) MethodInbox(name string) *Inbox[*pipeline.MethodRequest] {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.methods[name]
	if !ok {
		in = New[*pipeline.MethodRequest]()
		m.methods[name] = in
	}
	return in
}

// RouteC2DMessage delivers a cloud-to-device message.
func (m *Manager) RouteC2DMessage(msg *pipeline.Message) {
	m.c2d.Put(msg)
}

// RouteInputMessage delivers a message received on a module input.
func (m *Manager) RouteInputMessage(inputName string, msg *pipeline.Message) {
	m.InputInbox(inputName).Put(msg)
}

// RouteMethodRequest delivers req to the inbox for its method name, or to
// the default inbox if nobody has asked for that name.
func (m *Manager) RouteMethodRequest(req *pipeline.MethodRequest) {
	m.mu.Lock()
	in, ok := m.methods[req.Name]
	if !ok {
		in = m.methods[DefaultMethod]
	}
	m.mu.Unlock()

	in.Put(req)
}

// RouteTwinPatch delivers a desired-properties patch.
func (m *Manager) RouteTwinPatch(patch pipeline.TwinPatch) {
	m.twinPatches.Put(patch)
}

// ClearAllMethodRequests discards queued method requests in every method
// inbox, including the default one. Requests received before a disconnect
// cannot be answered after it.
func (m *Manager) ClearAllMethodRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, in := range m.methods {
		in.Clear()
	}
}
