package session

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors surfaced to callers. Raw transport errors never leak; they are
// translated into these inside the supervisor.
var (
	// ErrAuthRejected means the server rejected the credentials. Fatal:
	// the client moves to Closed and never retries on its own.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrConnectionClosed rejects pending requests when the channel is
	// torn down, and sends attempted while not authenticated.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRetriesExhausted is the terminal give-up error after the
	// configured maximum connect attempts all failed.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrRequestTimeout means the caller-side deadline elapsed before a
	// matching reply arrived.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrBacklogFull rejects new requests when too many are already
	// pending, rather than queueing indefinitely.
	ErrBacklogFull = errors.New("request backlog full")

	// ErrAlreadyClosed means the client was explicitly disconnected.
	ErrAlreadyClosed = errors.New("client already closed")
)

// State is the connection state of a Client. Exactly one state is active
// at a time.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateReconnecting
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// StateChange describes one state machine transition, delivered to the
// optional state hook.
type StateChange struct {
	From    State
	To      State
	Attempt int   // consecutive failed connect attempts at transition time
	Err     error // cause, nil for healthy transitions
	At      time.Time
}

// Health is the caller-visible health summary.
type Health struct {
	State            State
	Connected        bool
	Authenticated    bool
	Degraded         bool // reconnecting: previously worked, currently retrying
	ReconnectAttempt int
	LastError        error
}

// Stats exposes counters for operational logging.
type Stats struct {
	PendingRequests int
	Subscriptions   int
	Epoch           uint64 // increments per established connection
}

// Event is one server-pushed event delivered to a subscription callback.
type Event struct {
	Type           string
	Source         string
	SubscriptionID int64
	Payload        json.RawMessage
}

// EventHandler consumes events for one subscription. Handlers run on the
// dispatch goroutine; panics are recovered and logged.
type EventHandler func(Event)

// Config configures a Client.
type Config struct {
	// MaxConnectAttempts bounds consecutive failed connect attempts, for
	// both the initial connect and reconnection after a drop.
	MaxConnectAttempts int

	// Backoff selects the delay policy between attempts.
	Backoff BackoffPolicy

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// HeartbeatInterval is the keepalive period; 0 disables the monitor.
	// The grace window for a reply is twice the interval.
	HeartbeatInterval time.Duration

	// AuthTimeout bounds the handshake after the channel opens.
	AuthTimeout time.Duration

	// RequestTimeout is the default per-request deadline applied when the
	// caller's context has none.
	RequestTimeout time.Duration

	// MaxPending caps in-flight correlated requests.
	MaxPending int

	// StateHook, if set, observes every state transition.
	StateHook func(StateChange)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnectAttempts: 5,
		Backoff:            BackoffExponential,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		AuthTimeout:        10 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxPending:         1024,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff == "" {
		c.Backoff = def.Backoff
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxPending == 0 {
		c.MaxPending = def.MaxPending
	}
}
