package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/markus41/streamcore/internal/creds"
	"github.com/markus41/streamcore/internal/transport"
	"github.com/markus41/streamcore/internal/wire"
)

// Client supervises one logical duplex channel: it owns the connection
// state machine, drives the auth handshake and reconnection policy, and
// exposes correlated requests and event subscriptions to many concurrent
// callers.
type Client struct {
	cfg    Config
	dialer transport.Dialer
	creds  creds.Provider
	logger *slog.Logger
	clock  Clock

	correlator *correlator
	router     *eventRouter
	backoff    backoff

	// connectMu serializes connect sequences: concurrent Connect callers
	// and the background reconnect loop block here until the in-flight
	// attempt resolves one way or the other.
	connectMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      transport.Conn
	heartbeat *heartbeat
	epoch     uint64 // increments per established connection
	attempt   int    // consecutive failed connect attempts
	lastErr   error
	closing   bool

	done chan struct{}
}

// New creates a client. It does not connect; call Connect.
func New(cfg Config, dialer transport.Dialer, provider creds.Provider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		dialer: dialer,
		creds:  provider,
		logger: logger,
		clock:  systemClock{},
		backoff: backoff{
			policy: cfg.Backoff,
			base:   cfg.ReconnectBaseDelay,
			max:    cfg.ReconnectMaxDelay,
		},
		state: StateDisconnected,
		done:  make(chan struct{}),
	}

	c.correlator = newCorrelator(cfg.MaxPending, c.sendFrame, c.clock, logger)
	c.router = newEventRouter(c.correlator, cfg.RequestTimeout, logger)

	return c
}

// Connect drives the session to Authenticated or returns a fatal error.
// Transient transport failures are retried per the backoff policy up to
// MaxConnectAttempts; invalid credentials fail immediately and leave the
// client Closed until Connect is called again.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	// Explicit connect after Closed starts a fresh attempt budget.
	c.attempt = 0
	c.mu.Unlock()

	return c.establish(ctx, false)
}

// Disconnect tears down the channel, force-fails all pending requests,
// stops the heartbeat, and never auto-reconnects. The client is done for
// good; create a new one to connect again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.closing = true
	conn := c.conn
	c.conn = nil
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	close(c.done)

	if hb != nil {
		hb.stop()
	}
	if conn != nil {
		conn.Close()
	}

	c.correlator.failAll(ErrConnectionClosed)
	c.router.clear()
	c.setState(StateClosed, nil)

	c.logger.Info("client disconnected")
	return nil
}

// SendRequest issues a correlated request and blocks until the matching
// reply, the caller deadline, or session teardown. When the context has
// no deadline, the configured RequestTimeout applies.
func (c *Client) SendRequest(ctx context.Context, op string, params interface{}) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	return c.correlator.sendRequest(ctx, op, params)
}

// Subscribe registers an event listener. The returned handle stays valid
// across reconnects; only event delivery may gap during an outage.
func (c *Client) Subscribe(ctx context.Context, eventType, source string, fn EventHandler) (*Subscription, error) {
	return c.router.subscribe(ctx, eventType, source, fn)
}

// Health reports the caller-visible connection health. Degraded means
// reconnecting: the session previously worked and is being re-established,
// as opposed to fully Closed.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		State:            c.state,
		Connected:        c.state == StateAuthenticated || c.state == StateAwaitingAuth,
		Authenticated:    c.state == StateAuthenticated,
		Degraded:         c.state == StateReconnecting,
		ReconnectAttempt: c.attempt,
		LastError:        c.lastErr,
	}
}

// Stats returns operational counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return Stats{
		PendingRequests: c.correlator.pendingCount(),
		Subscriptions:   c.router.count(),
		Epoch:           epoch,
	}
}

// setState records a transition and notifies the hook.
func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	old := c.state
	c.state = s
	if err != nil {
		c.lastErr = err
	}
	attempt := c.attempt
	c.mu.Unlock()

	if old == s {
		return
	}

	c.logger.Debug("state change", "from", old, "to", s, "attempt", attempt)

	if c.cfg.StateHook != nil {
		c.cfg.StateHook(StateChange{
			From:    old,
			To:      s,
			Attempt: attempt,
			Err:     err,
			At:      c.clock.Now(),
		})
	}
}

// establish runs the connect sequence: dial, authenticate, start the
// session, resubscribe. Transient failures retry per the backoff policy;
// waitFirst makes the first dial wait out a backoff period (reconnection
// after a drop).
func (c *Client) establish(ctx context.Context, waitFirst bool) error {
	var lastErr error

	for {
		c.mu.Lock()
		attempt := c.attempt
		closing := c.closing
		c.mu.Unlock()

		if closing {
			return ErrAlreadyClosed
		}

		if attempt >= c.cfg.MaxConnectAttempts {
			err := fmt.Errorf("%w: %d attempts, last error: %v",
				ErrRetriesExhausted, attempt, lastErr)
			c.router.clear()
			c.setState(StateClosed, err)
			c.logger.Error("giving up on connection", "attempts", attempt, "error", lastErr)
			return err
		}

		if waitFirst || attempt > 0 {
			c.setState(StateReconnecting, lastErr)
			delay := c.backoff.delay(attempt + 1)
			c.logger.Info("waiting before connect attempt", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				c.setState(StateClosed, ctx.Err())
				return ctx.Err()
			case <-c.done:
				return ErrAlreadyClosed
			case <-c.clock.After(delay):
			}
			waitFirst = false
		}

		c.setState(StateConnecting, nil)

		conn, err := c.dialer.Dial(ctx)
		if err == nil {
			c.setState(StateAwaitingAuth, nil)
			err = c.authenticate(ctx, conn)
			if err == nil {
				epoch := c.startSession(conn)
				c.router.resubscribeAll(ctx)
				c.logger.Info("session established", "epoch", epoch)
				return nil
			}
			conn.Close()

			if errors.Is(err, ErrAuthRejected) {
				c.router.clear()
				c.setState(StateClosed, err)
				return err
			}
		}

		if ctx.Err() != nil {
			c.setState(StateClosed, ctx.Err())
			return ctx.Err()
		}

		lastErr = err
		c.mu.Lock()
		c.attempt++
		attempt = c.attempt
		c.mu.Unlock()

		c.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxConnectAttempts,
			"error", err,
		)
	}
}

// authenticate runs the handshake on a freshly opened channel: send the
// auth frame, then wait for auth-ok or auth-invalid. Runs before the
// dispatch loop starts, so it reads the channel directly.
func (c *Client) authenticate(ctx context.Context, conn transport.Conn) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	data, err := json.Marshal(wire.NewAuth(token))
	if err != nil {
		return fmt.Errorf("encode auth frame: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	timeout := c.clock.After(c.cfg.AuthTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrAlreadyClosed
		case <-timeout:
			return fmt.Errorf("auth handshake: %w", ErrRequestTimeout)
		case err := <-conn.Errors():
			return fmt.Errorf("channel failed during handshake: %w", err)
		case msg, ok := <-conn.Messages():
			if !ok {
				return errors.New("channel closed during handshake")
			}

			f, err := wire.Decode(msg)
			if err != nil {
				c.logger.Warn("protocol anomaly during handshake, frame dropped", "error", err)
				continue
			}

			switch f.Type {
			case wire.TypeAuthRequired:
				// Server prompt; our auth frame is already on the wire.
			case wire.TypeAuthOK:
				return nil
			case wire.TypeAuthInvalid:
				if f.Reason != "" {
					return fmt.Errorf("%w: %s", ErrAuthRejected, f.Reason)
				}
				return ErrAuthRejected
			default:
				c.logger.Warn("unexpected frame before auth, dropped", "type", f.Type)
			}
		}
	}
}

// startSession installs an authenticated channel as the new epoch and
// starts its dispatch loop and heartbeat.
func (c *Client) startSession(conn transport.Conn) uint64 {
	c.correlator.resetEpoch()

	c.mu.Lock()
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.attempt = 0
	c.lastErr = nil
	var hb *heartbeat
	if c.cfg.HeartbeatInterval > 0 {
		hb = newHeartbeat(c.cfg.HeartbeatInterval, c.correlator, c.clock, func(err error) {
			c.connLost(epoch, err)
		}, c.logger)
		c.heartbeat = hb
	}
	c.mu.Unlock()

	c.setState(StateAuthenticated, nil)

	go c.dispatchLoop(conn, epoch)
	if hb != nil {
		hb.start()
	}

	return epoch
}

// sendFrame transmits one encoded frame over the current channel. Raw
// transport errors are translated; they never reach callers.
func (c *Client) sendFrame(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateAuthenticated || conn == nil {
		return ErrConnectionClosed
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// dispatchLoop is the single serialized reader of inbound frames for one
// connection epoch: result frames go to the correlator, event frames to
// the router, anything else is a protocol anomaly.
func (c *Client) dispatchLoop(conn transport.Conn, epoch uint64) {
	for {
		select {
		case <-c.done:
			return

		case err := <-conn.Errors():
			c.connLost(epoch, err)
			return

		case msg, ok := <-conn.Messages():
			if !ok {
				c.connLost(epoch, errors.New("channel closed by peer"))
				return
			}

			f, err := wire.Decode(msg)
			if err != nil {
				c.logger.Warn("protocol anomaly, frame dropped", "error", err)
				continue
			}

			switch f.Type {
			case wire.TypeResult:
				c.correlator.resolve(f)
			case wire.TypeEvent:
				c.router.dispatch(f)
			default:
				c.logger.Warn("unexpected frame type, dropped", "type", f.Type)
			}
		}
	}
}

// connLost handles a broken channel: reject pending requests, stop the
// heartbeat, and kick off reconnection. Idempotent per epoch, so the
// dispatch loop and heartbeat racing to report the same failure produce a
// single Authenticated -> Reconnecting transition.
func (c *Client) connLost(epoch uint64, cause error) {
	c.mu.Lock()
	if c.closing || c.epoch != epoch || c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	if conn != nil {
		conn.Close()
	}

	c.correlator.failAll(ErrConnectionClosed)

	c.logger.Warn("connection lost", "epoch", epoch, "error", cause)
	c.setState(StateReconnecting, cause)

	go c.reconnect()
}

// reconnect re-establishes the session in the background after a drop.
func (c *Client) reconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closing || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.establish(context.Background(), true); err != nil {
		c.logger.Error("reconnection failed", "error", err)
	}
}
