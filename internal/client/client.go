package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-device/internal/async"
	"github.com/nerrad567/gray-logic-device/internal/auth"
	"github.com/nerrad567/gray-logic-device/internal/inbox"
	"github.com/nerrad567/gray-logic-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// ErrNotModule is returned when a module client is built for a device
// identity.
var ErrNotModule = errors.New("client: identity has no module id")

// Options configures a Client.
type Options struct {
	// MQTT tunes the default transport. Ignored when TransportFactory is set.
	MQTT mqtt.Options

	// TransportFactory overrides the MQTT transport, mainly for tests.
	TransportFactory pipeline.TransportFactory

	Logger      pipeline.Logger
	FailureSink pipeline.FailureSink
	Recorder    pipeline.Recorder
	UserAgent   string
}

// Client is a blocking device client. Every call takes a context and waits
// for the pipeline to complete the underlying operation.
//
// Receive calls enable the matching feature on first use and then wait on
// the corresponding inbox.
type Client struct {
	pipeline *pipeline.Pipeline
	inboxes  *inbox.Manager
	provider pipeline.AuthProvider

	mu                  sync.RWMutex
	onConnectionChanged func(connected bool)

	closeOnce sync.Once
}

// New builds a client for provider.
func New(provider pipeline.AuthProvider, opts Options) (*Client, error) {
	factory := opts.TransportFactory
	if factory == nil {
		factory = mqtt.Factory(opts.MQTT)
	}

	p, err := pipeline.New(provider, pipeline.Options{
		TransportFactory: factory,
		Logger:           opts.Logger,
		FailureSink:      opts.FailureSink,
		Recorder:         opts.Recorder,
		UserAgent:        opts.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		pipeline: p,
		inboxes:  inbox.NewManager(),
		provider: provider,
	}
	p.SetHandlers(pipeline.Handlers{
		OnConnected:     func() { c.connectionChanged(true) },
		OnDisconnected:  c.handleDisconnected,
		OnC2DMessage:    c.inboxes.RouteC2DMessage,
		OnInputMessage:  c.inboxes.RouteInputMessage,
		OnMethodRequest: c.inboxes.RouteMethodRequest,
		OnTwinPatch:     c.inboxes.RouteTwinPatch,
	})
	return c, nil
}

// NewFromConnectionString parses connectionString and builds a client for
// the identity it names.
func NewFromConnectionString(connectionString string, authOpts auth.Options, opts Options) (*Client, error) {
	provider, err := auth.FromConnectionString(connectionString, authOpts)
	if err != nil {
		return nil, err
	}

	c, err := New(provider, opts)
	if err != nil {
		stopProvider(provider)
		return nil, err
	}
	return c, nil
}

// SetOnConnectionStateChange registers fn to be called with every
// connection state change. fn runs on the callback worker.
func (c *Client) SetOnConnectionStateChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onConnectionChanged = fn
	c.mu.Unlock()
}

// Connected reports whether the session is open.
func (c *Client) Connected() bool {
	return c.pipeline.Connected()
}

// Connect opens the session.
func (c *Client) Connect(ctx context.Context) error {
	return async.AwaitErr(ctx, c.pipeline.Connect)
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	return async.AwaitErr(ctx, c.pipeline.Disconnect)
}

// Close disconnects if connected, stops the pipeline and cancels token
// renewal. It must not be called from a handler.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.pipeline.Connected() {
			err = c.Disconnect(ctx)
		}
		c.pipeline.Close()
		stopProvider(c.provider)
	})
	return err
}

// SendMessage sends a device-to-cloud message, connecting first if needed.
// A message id is assigned when msg has none.
func (c *Client) SendMessage(ctx context.Context, msg *pipeline.Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return async.AwaitErr(ctx, func(done func(error)) {
		c.pipeline.SendTelemetry(msg, done)
	})
}

// ReceiveMessage waits for a cloud-to-device message.
func (c *Client) ReceiveMessage(ctx context.Context) (*pipeline.Message, error) {
	if err := c.ensureFeature(ctx, pipeline.FeatureC2D); err != nil {
		return nil, err
	}
	return c.inboxes.C2DInbox().Get(ctx)
}

// ReceiveMethodRequest waits for a direct method call. An empty name
// receives calls for any method without a dedicated receiver.
func (c *Client) ReceiveMethodRequest(ctx context.Context, name string) (*pipeline.MethodRequest, error) {
	in := c.inboxes.MethodInbox(name)
	if err := c.ensureFeature(ctx, pipeline.FeatureMethods); err != nil {
		return nil, err
	}
	return in.Get(ctx)
}

// SendMethodResponse answers a direct method call.
func (c *Client) SendMethodResponse(ctx context.Context, resp *pipeline.MethodResponse) error {
	return async.AwaitErr(ctx, func(done func(error)) {
		c.pipeline.SendMethodResponse(resp, done)
	})
}

// GetTwin fetches the full twin document.
func (c *Client) GetTwin(ctx context.Context) (*pipeline.Twin, error) {
	if err := c.ensureFeature(ctx, pipeline.FeatureTwin); err != nil {
		return nil, err
	}
	return async.Await(ctx, c.pipeline.GetTwin)
}

// PatchTwinReportedProperties updates reported properties.
func (c *Client) PatchTwinReportedProperties(ctx context.Context, patch pipeline.TwinPatch) error {
	if err := c.ensureFeature(ctx, pipeline.FeatureTwin); err != nil {
		return err
	}
	return async.AwaitErr(ctx, func(done func(error)) {
		c.pipeline.PatchTwinReportedProperties(patch, done)
	})
}

// ReceiveTwinDesiredPropertiesPatch waits for a desired-properties patch.
func (c *Client) ReceiveTwinDesiredPropertiesPatch(ctx context.Context) (pipeline.TwinPatch, error) {
	if err := c.ensureFeature(ctx, pipeline.FeatureTwinPatches); err != nil {
		return nil, err
	}
	return c.inboxes.TwinPatchInbox().Get(ctx)
}

// ensureFeature enables f unless it is already enabled.
func (c *Client) ensureFeature(ctx context.Context, f pipeline.Feature) error {
	if c.pipeline.FeatureEnabled(f) {
		return nil
	}
	err := async.AwaitErr(ctx, func(done func(error)) {
		if err := c.pipeline.EnableFeature(f, done); err != nil {
			done(err)
		}
	})
	if err != nil {
		return fmt.Errorf("enabling %s: %w", f, err)
	}
	return nil
}

// handleDisconnected drops method requests that can no longer be answered.
func (c *Client) handleDisconnected() {
	c.inboxes.ClearAllMethodRequests()
	c.connectionChanged(false)
}

func (c *Client) connectionChanged(connected bool) {
	c.mu.RLock()
	fn := c.onConnectionChanged
	c.mu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

func stopProvider(provider pipeline.AuthProvider) {
	if s, ok := provider.(auth.Stopper); ok {
		s.Stop()
	}
}
