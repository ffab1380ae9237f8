// Package client is the composition root: it owns the transport, frame
// codec, tag registry, state machine, auth engine, and reconnect policy for
// one logical connection to the messaging service.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/wirelink/internal/auth"
	"github.com/postalsys/wirelink/internal/config"
	"github.com/postalsys/wirelink/internal/events"
	"github.com/postalsys/wirelink/internal/logging"
	"github.com/postalsys/wirelink/internal/metrics"
	"github.com/postalsys/wirelink/internal/reconnect"
	"github.com/postalsys/wirelink/internal/recovery"
	"github.com/postalsys/wirelink/internal/registry"
	"github.com/postalsys/wirelink/internal/session"
	"github.com/postalsys/wirelink/internal/state"
	"github.com/postalsys/wirelink/internal/transport"
	"github.com/postalsys/wirelink/internal/wire"
)

const (
	keepaliveInterval = 20 * time.Second

	// keepaliveWindow is how long the transport may stay silent before it
	// is declared dead and handed to the reconnect policy.
	keepaliveWindow = 2 * keepaliveInterval
)

var errKeepaliveMissed = errors.New("no traffic inside keepalive window")

var (
	// ErrInvalidState is returned when an operation is invoked in a
	// connection state that does not permit it.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNotConnected is returned when a send has no transport to use.
	ErrNotConnected = errors.New("not connected")
)

// Deps are the injectable collaborators. Zero fields get production defaults.
type Deps struct {
	Dialer  transport.Dialer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client is a single logical connection to the service. All state mutation
// is serialized behind one mutex; socket reads run on a per-epoch pump
// goroutine that re-enters through the same mutex.
type Client struct {
	log     *slog.Logger
	cfg     *config.Config
	dialer  transport.Dialer
	metrics *metrics.Metrics

	codec   *wire.Codec
	reg     *registry.Registry
	machine *state.Machine
	bus     *events.Bus
	engine  *auth.Engine
	sched   *reconnect.Scheduler
	limiter *rate.Limiter

	kaInterval time.Duration
	kaWindow   time.Duration
	lastRecv   atomic.Int64 // unix nanos of the last inbound read

	mu          sync.Mutex
	conn        transport.Conn
	epoch       uint64
	sess        *session.Session
	explicit    bool // caller-initiated disconnect, no reconnect
	settleTimer *time.Timer
	pumpCancel  context.CancelFunc

	readyMu sync.Mutex
	isReady bool
	readyCh chan struct{}
}

// New creates a client with production collaborators.
func New(cfg *config.Config) (*Client, error) {
	return NewWithDeps(cfg, Deps{})
}

// NewWithDeps creates a client with injected collaborators. Tests use this
// to substitute an in-memory transport.
func NewWithDeps(cfg *config.Config, deps Deps) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	c := &Client{
		log:        deps.Logger,
		cfg:        cfg,
		dialer:     deps.Dialer,
		metrics:    deps.Metrics,
		codec:      wire.NewCodec(),
		reg:        registry.New(),
		bus:        events.NewBus(),
		readyCh:    make(chan struct{}),
		kaInterval: keepaliveInterval,
		kaWindow:   keepaliveWindow,
	}
	if c.log == nil {
		c.log = logging.NopLogger()
	}
	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer()
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}
	if cfg.Requests.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Requests.RatePerSec), 1)
	}

	c.machine = state.NewMachine(c.onStateChange)
	c.sched = reconnect.NewScheduler(reconnect.Config{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		Multiplier:  cfg.Reconnect.Multiplier,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, c.reconnectAttempt, c.reconnectExhausted)

	c.engine = auth.NewEngine(auth.Config{
		Method:      cfg.Auth.Method,
		Phone:       cfg.Auth.Phone,
		CodeTimeout: cfg.Auth.CodeTimeout,
		MaxRetries:  cfg.Auth.MaxRetries,
	}, auth.Callbacks{
		SendStructured:  c.SendStructured,
		Transition:      c.machine.To,
		Emit:            c.bus.Emit,
		Persist:         c.persistSession,
		ForceDisconnect: c.forceDisconnect,
	}, c.log, c.metrics)

	if sess, err := session.Load(cfg.Client.DataDir); err == nil {
		c.sess = sess
	} else if !errors.Is(err, session.ErrNotFound) {
		c.log.Warn("stored session unusable", logging.KeyError, err)
	}

	return c, nil
}

// Subscribe registers an event handler. Handlers run on internal goroutines
// and must not block; reading the client (State, Session) from a handler is
// safe, but handlers must not drive transitions synchronously (Connect,
// Disconnect, Logout).
func (c *Client) Subscribe(h events.Handler) {
	c.bus.Subscribe(h)
}

// State returns the current connection state.
func (c *Client) State() state.State {
	return c.machine.Current()
}

// Session returns the active session, nil when unauthenticated.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Connect dials the endpoint, sends the initialization message, and starts
// the read pump. Authentication continues asynchronously; use Subscribe or
// WaitUntilReady to follow progress.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.machine.To(state.Connecting); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	c.mu.Lock()
	c.explicit = false
	c.mu.Unlock()
	c.sched.Resume()

	conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint.URL, transport.Options{
		Origin:             c.cfg.Endpoint.Origin,
		Timeout:            c.cfg.Endpoint.DialTimeout,
		ProxyURL:           c.cfg.Proxy.URL,
		ProxyUsername:      c.cfg.Proxy.Username,
		ProxyPassword:      c.cfg.Proxy.Password,
		SOCKSProxy:         c.cfg.Proxy.SOCKS,
		InsecureSkipVerify: c.cfg.Endpoint.InsecureSkipVerify,
	})
	if err != nil {
		c.machine.To(state.Disconnected)
		c.bus.Emit(events.ConnectionError{Err: err})
		return fmt.Errorf("connect: %w", err)
	}

	if err := c.engine.EnsureKeys(); err != nil {
		conn.Close(transport.StatusGoingAway, "setup failed")
		c.machine.To(state.Disconnected)
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.lastRecv.Store(time.Now().UnixNano())
	c.mu.Lock()
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.pumpCancel = cancel
	c.mu.Unlock()

	if err := c.machine.To(state.Connected); err != nil {
		// A concurrent teardown beat us; release the socket.
		cancel()
		conn.Close(transport.StatusGoingAway, "superseded")
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	c.metrics.RecordConnect()
	c.bus.Emit(events.Connected{})
	c.log.Info("connected", logging.KeyEndpoint, c.cfg.Endpoint.URL)

	if err := c.sendInit(ctx); err != nil {
		c.handleConnError(epoch, err)
		return err
	}

	go c.readPump(pumpCtx, conn, epoch)
	go c.keepaliveLoop(pumpCtx, epoch)
	return nil
}

// sendInit sends the initialization message. A valid stored session adds the
// resume tokens so the server can skip the handshake.
func (c *Client) sendInit(ctx context.Context) error {
	doc := map[string]any{
		"type":     "init",
		"clientId": c.engine.ClientID(),
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess.Valid() {
		doc["resume"] = true
		doc["serverToken"] = sess.ServerToken
		doc["clientToken"] = sess.ClientToken
	}

	return c.SendStructured(ctx, doc)
}

// SendStructured sends a structured admin frame with a fresh correlation tag.
func (c *Client) SendStructured(ctx context.Context, doc map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	tag := c.reg.NextTag()
	buf, err := c.codec.EncodeStructured(tag, doc)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.metrics.RecordFrameSent(wire.KindName(wire.KindStructured), len(buf))
	return nil
}

// SendTagged sends a tagged-binary request and waits for its correlated
// reply. The request timeout is independent of ctx and applies even when the
// caller's context has a longer deadline.
func (c *Client) SendTagged(ctx context.Context, node *wire.Node) (*wire.Frame, error) {
	if !c.machine.Is(state.Authenticated, state.Ready) {
		return nil, fmt.Errorf("%w: connection is %s", ErrInvalidState, c.machine.Current())
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	tag := c.reg.NextTag()
	buf, err := c.codec.EncodeTagged(tag, node)
	if err != nil {
		return nil, err
	}

	pending, err := c.reg.Register(tag, c.cfg.Requests.Timeout)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordRequestStart()
	start := time.Now()

	if err := conn.Write(ctx, buf); err != nil {
		c.reg.Resolve(tag, nil) // discharge the pending slot
		c.metrics.RecordRequestEnd(time.Since(start).Seconds())
		return nil, fmt.Errorf("write: %w", err)
	}
	c.metrics.RecordFrameSent(wire.KindName(wire.KindTagged), len(buf))

	reply, err := pending.Wait(ctx)
	if err != nil {
		if errors.Is(err, registry.ErrRequestTimeout) {
			c.metrics.RecordRequestTimeout()
			c.log.Warn("request timed out", logging.KeyTag, tag)
		} else {
			c.metrics.RecordRequestEnd(time.Since(start).Seconds())
		}
		return nil, err
	}
	c.metrics.RecordRequestEnd(time.Since(start).Seconds())
	return reply, nil
}

// RequestPairingCode runs the short code flow for the given phone.
func (c *Client) RequestPairingCode(ctx context.Context, phone string) error {
	if !c.machine.Is(state.Connected, state.Authenticating) {
		return fmt.Errorf("%w: connection is %s", ErrInvalidState, c.machine.Current())
	}
	return c.engine.RequestPairingCode(ctx, phone)
}

// WaitUntilReady blocks until the connection reaches Ready or ctx ends.
func (c *Client) WaitUntilReady(ctx context.Context) error {
	for {
		c.readyMu.Lock()
		ready, ch := c.isReady, c.readyCh
		c.readyMu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the connection deliberately. No reconnect follows.
func (c *Client) Disconnect() error {
	c.sched.Stop()

	c.mu.Lock()
	c.explicit = true
	conn := c.releaseLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close(transport.StatusNormalClosure, "client disconnect")
	}
	// Already disconnected: nothing happened, so nothing is reported.
	if err := c.machine.To(state.Disconnected); err != nil {
		return nil
	}
	c.metrics.RecordDisconnect("explicit")
	c.bus.Emit(events.Disconnected{Code: transport.StatusNormalClosure, Reason: "client disconnect"})
	return nil
}

// Logout sends a goodbye message, deletes the persisted session, and
// disconnects. The next Connect performs a fresh handshake.
func (c *Client) Logout(ctx context.Context) error {
	// Best effort: the session is removed even if the goodbye cannot be sent.
	if err := c.SendStructured(ctx, map[string]any{"type": "goodbye"}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("goodbye not delivered", logging.KeyError, err)
	}

	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	if err := session.Delete(c.cfg.Client.DataDir); err != nil {
		return err
	}
	return c.Disconnect()
}

// readPump reads frames until the connection fails or the epoch is torn down.
func (c *Client) readPump(ctx context.Context, conn transport.Conn, epoch uint64) {
	defer recovery.RecoverWithLog(c.log, "read pump")

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.handleConnError(epoch, err)
			}
			return
		}
		c.lastRecv.Store(time.Now().UnixNano())

		f, err := c.codec.Decode(data)
		if err != nil {
			// One bad frame does not tear down the connection.
			c.metrics.DecodeErrors.Inc()
			c.log.Warn("frame rejected", logging.KeyError, err, logging.KeyPayloadLen, len(data))
			c.bus.Emit(events.ConnectionError{Err: err})
			continue
		}
		c.metrics.RecordFrameReceived(wire.KindName(f.Kind), len(data))
		c.dispatch(f)
	}
}

// dispatch routes one inbound frame: correlated replies resolve their
// pending request, everything else feeds the connection lifecycle.
func (c *Client) dispatch(f *wire.Frame) {
	if f.Tag != "" && c.reg.Resolve(f.Tag, f) {
		return
	}

	if f.Kind != wire.KindStructured {
		c.log.Debug("uncorrelated tagged frame dropped", logging.KeyTag, f.Tag)
		return
	}
	if f.Doc == nil {
		// Bare-tag keepalive ack.
		return
	}

	if status, ok := f.Doc["status"].(string); ok {
		switch status {
		case "connected":
			if c.machine.ToIf(state.Connected, state.Authenticating) {
				c.log.Debug("server acknowledged connection, authenticating")
			}
		case "timeout":
			c.handleServerTimeout()
		default:
			c.log.Debug("unhandled status", logging.KeyState, status)
		}
		return
	}

	typ, _ := f.Doc["type"].(string)
	switch typ {
	case "ref":
		ref, _ := f.Doc["ref"].(string)
		if err := c.engine.HandleReference(ref); err != nil {
			c.log.Warn("handshake reference rejected", logging.KeyError, err)
		}

	case "pair_code", "pair_error":
		c.engine.HandlePairingReply(f.Doc)

	case "success":
		c.handleSuccess(f.Doc)

	default:
		c.log.Debug("unhandled frame", logging.KeyKind, typ, logging.KeyTag, f.Tag)
	}
}

// handleSuccess materializes the session and schedules the settle delay.
func (c *Client) handleSuccess(doc map[string]any) {
	sess, err := c.engine.HandleSuccess(doc)
	if err != nil {
		c.log.Error("handshake success unusable", logging.KeyError, err)
		c.bus.Emit(events.ConnectionError{Err: err})
		return
	}

	c.mu.Lock()
	c.sess = sess
	epoch := c.epoch
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.cfg.Requests.SettleDelay, func() {
		c.settle(epoch)
	})
	c.mu.Unlock()
}

// settle promotes Authenticated to Ready unless a disconnect intervened.
func (c *Client) settle(epoch uint64) {
	c.mu.Lock()
	stale := epoch != c.epoch || c.conn == nil
	c.mu.Unlock()
	if stale {
		return
	}

	if !c.machine.ToIf(state.Authenticated, state.Ready) {
		return
	}
	// Reaching Ready resets the reconnect and code retry budgets.
	c.sched.Reset()
	c.engine.ResetRetries()
	c.bus.Emit(events.Ready{})
	c.log.Info("session ready")
}

// keepaliveLoop sends periodic bare-tag probes while the session is ready
// and tears the transport down when nothing arrives inside the window, so a
// half-dead socket is handed to the reconnect policy instead of idling.
func (c *Client) keepaliveLoop(ctx context.Context, epoch uint64) {
	defer recovery.RecoverWithLog(c.log, "keepalive loop")

	ticker := time.NewTicker(c.kaInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.machine.Is(state.Ready) {
			continue
		}
		c.mu.Lock()
		conn := c.conn
		current := c.epoch
		c.mu.Unlock()
		if conn == nil || current != epoch {
			return
		}

		if silent := time.Since(time.Unix(0, c.lastRecv.Load())); silent > c.kaWindow {
			c.log.Warn("keepalive window missed", logging.KeyDuration, silent)
			c.handleConnError(epoch, errKeepaliveMissed)
			return
		}

		buf, err := c.codec.EncodeStructured("?", nil)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, buf); err != nil {
			c.log.Warn("keepalive write failed", logging.KeyError, err)
			continue
		}
		c.metrics.KeepalivesSent.Inc()
	}
}

// handleConnError tears down a failed epoch and hands control to the
// reconnect policy when the closure was abnormal.
func (c *Client) handleConnError(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.releaseLocked()
	explicit := c.explicit
	c.mu.Unlock()

	if conn != nil {
		conn.Close(transport.StatusGoingAway, "teardown")
	}

	code, hasCode := transport.CloseCode(err)
	reason := "transport error"
	if hasCode {
		reason = fmt.Sprintf("close %d", code)
	}
	c.log.Warn("connection lost", logging.KeyError, err, logging.KeyCloseCode, code)

	c.machine.To(state.Disconnected)
	c.metrics.RecordDisconnect(reason)
	c.bus.Emit(events.Disconnected{Code: code, Reason: err.Error()})

	if !explicit && c.cfg.Reconnect.Enabled && !transport.IsNormalClosure(err) {
		c.sched.Schedule()
	}
}

// handleServerTimeout reacts to the server declaring the connection timed
// out on its side. This is the only trigger for the Timeout state; the
// reconnect policy takes over from there.
func (c *Client) handleServerTimeout() {
	c.mu.Lock()
	conn := c.releaseLocked()
	explicit := c.explicit
	c.mu.Unlock()

	if conn != nil {
		conn.Close(transport.StatusGoingAway, "server timeout")
	}
	c.log.Warn("server reported connection timeout")

	c.machine.To(state.Timeout)
	c.metrics.RecordDisconnect("server timeout")
	c.bus.Emit(events.Disconnected{Code: transport.StatusGoingAway, Reason: "server timeout"})

	if !explicit && c.cfg.Reconnect.Enabled {
		c.sched.Schedule()
	}
}

// forceDisconnect is the auth engine's fatal-failure path: tear down without
// reconnecting and require fresh user action.
func (c *Client) forceDisconnect(reason string) {
	c.sched.Stop()

	c.mu.Lock()
	c.explicit = true
	conn := c.releaseLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close(transport.StatusNormalClosure, reason)
	}
	if err := c.machine.To(state.Disconnected); err != nil {
		return
	}
	c.metrics.RecordDisconnect(reason)
	c.bus.Emit(events.Disconnected{Code: transport.StatusNormalClosure, Reason: reason})
}

// releaseLocked cancels all epoch-scoped resources and detaches the
// transport: pending requests are rejected before the socket is released so
// nothing fires against a stale epoch. Caller holds c.mu.
func (c *Client) releaseLocked() transport.Conn {
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	c.engine.Reset()
	c.reg.RejectAll(registry.ErrConnectionReset)

	conn := c.conn
	c.conn = nil
	c.epoch++
	return conn
}

// reconnectAttempt dials again after the backoff delay.
func (c *Client) reconnectAttempt(n int) {
	defer recovery.RecoverWithLog(c.log, "reconnect")

	c.metrics.ReconnectTries.Inc()
	c.log.Info("reconnecting", logging.KeyAttempt, n)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Endpoint.DialTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		c.log.Warn("reconnect attempt failed", logging.KeyAttempt, n, logging.KeyError, err)
		c.sched.Schedule()
	}
}

// reconnectExhausted fires once when the reconnect budget is spent.
func (c *Client) reconnectExhausted() {
	c.log.Error("reconnect budget exhausted")
	c.machine.To(state.Disconnected)
	c.bus.Emit(events.ReconnectFailed{})
}

// persistSession stores the session under the data directory.
func (c *Client) persistSession(s *session.Session) error {
	return s.Save(c.cfg.Client.DataDir)
}

// onStateChange observes every applied transition. It runs outside the state
// lock but while the machine serializes notifications, so it must not
// transition the machine itself.
func (c *Client) onStateChange(from, to state.State) {
	c.metrics.RecordStateChange(from.String(), to.String())

	c.readyMu.Lock()
	if to == state.Ready {
		c.isReady = true
		close(c.readyCh)
	} else if c.isReady {
		c.isReady = false
		c.readyCh = make(chan struct{})
	}
	c.readyMu.Unlock()

	c.bus.Emit(events.StateChange{From: from, To: to})
}
