package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markus41/streamcore/internal/wire"
)

// pendingRequest tracks one in-flight correlated request from send until a
// matching reply, a caller deadline, or session teardown.
type pendingRequest struct {
	ch          chan requestResult
	submittedAt time.Time
}

type requestResult struct {
	payload json.RawMessage
	err     error
}

// correlator assigns session-scoped request IDs and matches result frames
// to waiting callers. The pending map and ID counter are guarded by one
// mutex; replies are matched strictly by ID, never by send order.
type correlator struct {
	logger     *slog.Logger
	clock      Clock
	maxPending int

	// send transmits one encoded frame over the current channel. Set by
	// the supervisor; fails with ErrConnectionClosed when there is none.
	send func([]byte) error

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
}

func newCorrelator(maxPending int, send func([]byte) error, clock Clock, logger *slog.Logger) *correlator {
	return &correlator{
		logger:     logger,
		clock:      clock,
		maxPending: maxPending,
		send:       send,
		pending:    make(map[uint64]*pendingRequest),
	}
}

// sendRequest transmits a correlated request and blocks until the matching
// reply, the context deadline, or teardown.
func (r *correlator) sendRequest(ctx context.Context, op string, params interface{}) (json.RawMessage, error) {
	r.mu.Lock()
	if len(r.pending) >= r.maxPending {
		n := len(r.pending)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d requests pending", ErrBacklogFull, n)
	}
	r.nextID++
	id := r.nextID
	req := &pendingRequest{
		ch:          make(chan requestResult, 1),
		submittedAt: r.clock.Now(),
	}
	r.pending[id] = req
	r.mu.Unlock()

	data, err := json.Marshal(wire.NewRequest(id, op, params))
	if err != nil {
		r.remove(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if err := r.send(data); err != nil {
		r.remove(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		// Best-effort local cancellation: drop our own future. A late
		// reply for this ID is dropped by resolve.
		r.remove(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: op %s id %d", ErrRequestTimeout, op, id)
		}
		return nil, ctx.Err()
	case res := <-req.ch:
		return res.payload, res.err
	}
}

// remove drops one pending entry, if still present. Used on the local
// cleanup paths (encode failure, send failure, caller deadline).
func (r *correlator) remove(id uint64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// resolve matches a result frame to its pending request. Replies bearing
// an unknown or stale ID never touch a live future; they are dropped and
// logged as an anomaly.
func (r *correlator) resolve(f wire.Frame) {
	r.mu.Lock()
	req, ok := r.pending[f.ID]
	if ok {
		delete(r.pending, f.ID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("reply with unknown correlation id dropped", "id", f.ID)
		return
	}

	if !f.OK {
		err := error(f.Error)
		if f.Error == nil {
			err = errors.New("request rejected by server")
		}
		req.ch <- requestResult{err: fmt.Errorf("request failed: %w", err)}
		return
	}

	req.ch <- requestResult{payload: f.Payload}
}

// failAll rejects every pending request and clears the map. Called on
// disconnect and forced reconnect.
func (r *correlator) failAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]*pendingRequest)
	r.mu.Unlock()

	for _, req := range pending {
		req.ch <- requestResult{err: err}
	}

	if len(pending) > 0 {
		r.logger.Debug("rejected pending requests", "count", len(pending), "error", err)
	}
}

// resetEpoch prepares the correlator for a new connection epoch: any
// stragglers are rejected and the ID counter restarts. IDs are scoped to a
// session, not globally unique across reconnects.
func (r *correlator) resetEpoch() {
	r.failAll(ErrConnectionClosed)

	r.mu.Lock()
	r.nextID = 0
	r.mu.Unlock()
}

func (r *correlator) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
