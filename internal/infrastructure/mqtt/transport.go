package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// token is the part of a paho token the transport waits on.
type token interface {
	Done() <-chan struct{}
	Error() error
}

// session is the part of the paho client the transport drives.
type session interface {
	Connect() token
	Disconnect(quiesce uint)
	Publish(topic string, payload []byte) token
	Subscribe(topic string) token
	Unsubscribe(topic string) token
}

// pahoSession adapts a paho client to session.
type pahoSession struct {
	client pahomqtt.Client
}

func (s pahoSession) Connect() token             { return s.client.Connect() }
func (s pahoSession) Disconnect(quiesce uint)    { s.client.Disconnect(quiesce) }
func (s pahoSession) Unsubscribe(t string) token { return s.client.Unsubscribe(t) }

func (s pahoSession) Publish(topic string, payload []byte) token {
	return s.client.Publish(topic, qos, false, payload)
}

// Subscribe relies on the default publish handler for delivery.
func (s pahoSession) Subscribe(topic string) token {
	return s.client.Subscribe(topic, qos, nil)
}

// Transport is an IoT Hub MQTT session built on paho.mqtt.golang. It
// implements pipeline.Transport.
//
// Connection transitions and acknowledgements are awaited on their own
// goroutines and reported through the registered hooks and done callbacks.
// paho's automatic reconnection is disabled: after a drop the transport
// stays down until the pipeline connects again.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Transport struct {
	cfg     pipeline.TransportConfig
	opts    Options
	session session

	// password is read by the credentials provider on every connect.
	password   string
	passwordMu sync.RWMutex

	// subscriptions tracks topics acknowledged by the broker.
	subscriptions map[string]struct{}
	subMu         sync.RWMutex

	connected atomic.Bool

	onConnected         func()
	onConnectionFailure func(cause error)
	onDisconnected      func(cause error)
	onMessage           func(topic string, payload []byte)
	callbackMu          sync.RWMutex
}

var _ pipeline.Transport = (*Transport)(nil)

// Factory returns a pipeline.TransportFactory that builds a Transport with
// opts for each connection configuration.
func Factory(opts Options) pipeline.TransportFactory {
	return func(cfg pipeline.TransportConfig) (pipeline.Transport, error) {
		return New(cfg, opts)
	}
}

// New creates a disconnected transport for cfg.
func New(cfg pipeline.TransportConfig, opts Options) (*Transport, error) {
	t, err := newTransport(cfg, opts)
	if err != nil {
		return nil, err
	}

	po, err := buildClientOptions(cfg, t.opts)
	if err != nil {
		return nil, err
	}
	po.SetCredentialsProvider(t.credentials)
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleConnectionLost(err)
	})
	po.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		t.handleMessage(msg.Topic(), msg.Payload())
	})

	t.session = pahoSession{client: pahomqtt.NewClient(po)}
	return t, nil
}

func newTransport(cfg pipeline.TransportConfig, opts Options) (*Transport, error) {
	if cfg.ClientID == "" || cfg.Hostname == "" {
		return nil, fmt.Errorf("%w: client id and hostname are required", ErrInvalidConfig)
	}
	return &Transport{
		cfg:           cfg,
		opts:          opts.withDefaults(),
		subscriptions: make(map[string]struct{}),
	}, nil
}

// credentials supplies the username and current password to paho.
func (t *Transport) credentials() (username, password string) {
	t.passwordMu.RLock()
	defer t.passwordMu.RUnlock()
	return t.cfg.Username, t.password
}

func (t *Transport) setPassword(password string) {
	t.passwordMu.Lock()
	t.password = password
	t.passwordMu.Unlock()
}

// Connect starts a connection attempt. The outcome is reported through the
// connected or connection-failure hook.
func (t *Transport) Connect(password string) error {
	t.setPassword(password)
	t.opts.Logger.Debug("connecting to IoT Hub", "client_id", t.cfg.ClientID, "broker", brokerURL(t.cfg, t.opts))

	tok := t.session.Connect()
	go t.awaitConnect(tok)
	return nil
}

// Reconnect closes the current session without reporting a disconnect, then
// connects again with password.
func (t *Transport) Reconnect(password string) error {
	t.setPassword(password)

	go func() {
		if t.connected.Load() {
			t.session.Disconnect(defaultDisconnectQuiesce)
			t.connected.Store(false)
		}
		t.awaitConnect(t.session.Connect())
	}()
	return nil
}

// Disconnect closes the session. The disconnected hook is called with a nil
// cause once paho has quiesced.
func (t *Transport) Disconnect() error {
	go func() {
		t.session.Disconnect(defaultDisconnectQuiesce)
		t.connected.Store(false)
		t.fireDisconnected(nil)
	}()
	return nil
}

// HealthCheck reports whether the session is up.
func (t *Transport) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !t.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// SetOnConnected sets the hook called after every successful connection.
func (t *Transport) SetOnConnected(fn func()) {
	t.callbackMu.Lock()
	t.onConnected = fn
	t.callbackMu.Unlock()
}

// SetOnConnectionFailure sets the hook called when an attempt fails.
func (t *Transport) SetOnConnectionFailure(fn func(cause error)) {
	t.callbackMu.Lock()
	t.onConnectionFailure = fn
	t.callbackMu.Unlock()
}

// SetOnDisconnected sets the hook called when the session ends. cause is nil
// after Disconnect.
func (t *Transport) SetOnDisconnected(fn func(cause error)) {
	t.callbackMu.Lock()
	t.onDisconnected = fn
	t.callbackMu.Unlock()
}

// SetOnMessageReceived sets the hook called for every inbound publish.
func (t *Transport) SetOnMessageReceived(fn func(topic string, payload []byte)) {
	t.callbackMu.Lock()
	t.onMessage = fn
	t.callbackMu.Unlock()
}

func (t *Transport) awaitConnect(tok token) {
	if err := t.wait(tok, t.opts.ConnectTimeout); err != nil {
		t.connected.Store(false)
		t.opts.Logger.Warn("IoT Hub connection failed", "client_id", t.cfg.ClientID, "error", err)
		t.fireConnectionFailure(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		return
	}

	t.connected.Store(true)
	t.callbackMu.RLock()
	fn := t.onConnected
	t.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// handleConnectionLost is called by paho when the session drops.
func (t *Transport) handleConnectionLost(err error) {
	t.connected.Store(false)
	t.opts.Logger.Warn("IoT Hub connection lost", "client_id", t.cfg.ClientID, "error", err)
	t.fireDisconnected(err)
}

// handleMessage forwards an inbound publish, recovering handler panics.
func (t *Transport) handleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.opts.Logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	t.callbackMu.RLock()
	fn := t.onMessage
	t.callbackMu.RUnlock()
	if fn == nil {
		t.opts.Logger.Warn("MQTT message dropped, no handler", "topic", topic)
		return
	}
	fn(topic, payload)
}

func (t *Transport) fireConnectionFailure(err error) {
	t.callbackMu.RLock()
	fn := t.onConnectionFailure
	t.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (t *Transport) fireDisconnected(err error) {
	t.callbackMu.RLock()
	fn := t.onDisconnected
	t.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// wait blocks until tok completes or timeout elapses.
func (t *Transport) wait(tok token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// await waits for tok on its own goroutine and reports the outcome, wrapped
// in kind, through done.
func (t *Transport) await(tok token, kind error, done func(error)) {
	go func() {
		err := t.wait(tok, t.opts.OperationTimeout)
		if err != nil {
			err = fmt.Errorf("%w: %w", kind, err)
		}
		if done != nil {
			done(err)
		}
	}()
}
