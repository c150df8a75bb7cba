package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markus41/streamcore/internal/wire"
)

// subscription is the router's record of one registered listener. The
// handle is stable for the subscription's whole life; the server ID is
// refreshed on every reconnect.
type subscription struct {
	handle    uuid.UUID
	serverID  int64
	eventType string
	source    string // optional filter: only events from this source
	fn        EventHandler
}

// Subscription is the caller-visible handle returned by Subscribe. Its ID
// never changes, even across reconnects.
type Subscription struct {
	id     uuid.UUID
	router *eventRouter
}

// ID returns the stable caller-visible handle ID.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Unsubscribe deregisters the subscription. The local registration is
// removed even if the server request fails, so it will not be resurrected
// on the next reconnect.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.router.unsubscribe(ctx, s.id)
}

// eventRouter multiplexes inbound event frames to registered
// subscriptions and re-registers them after reconnection.
type eventRouter struct {
	logger     *slog.Logger
	corr       *correlator
	reqTimeout time.Duration // deadline for control requests when ctx has none

	mu       sync.Mutex
	byHandle map[uuid.UUID]*subscription
	byServer map[int64]*subscription
}

func newEventRouter(corr *correlator, reqTimeout time.Duration, logger *slog.Logger) *eventRouter {
	return &eventRouter{
		logger:     logger,
		corr:       corr,
		reqTimeout: reqTimeout,
		byHandle:   make(map[uuid.UUID]*subscription),
		byServer:   make(map[int64]*subscription),
	}
}

// withDeadline applies the default control-request timeout when the
// caller's context has none.
func (r *eventRouter) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && r.reqTimeout > 0 {
		return context.WithTimeout(ctx, r.reqTimeout)
	}
	return ctx, func() {}
}

// subscribe registers interest with the server and records the
// subscription under a fresh handle.
func (r *eventRouter) subscribe(ctx context.Context, eventType, source string, fn EventHandler) (*Subscription, error) {
	serverID, err := r.register(ctx, eventType, source)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		handle:    uuid.New(),
		serverID:  serverID,
		eventType: eventType,
		source:    source,
		fn:        fn,
	}

	r.mu.Lock()
	r.byHandle[sub.handle] = sub
	r.byServer[sub.serverID] = sub
	r.mu.Unlock()

	r.logger.Debug("subscribed",
		"event_type", eventType,
		"source", source,
		"handle", sub.handle,
		"server_id", serverID,
	)

	return &Subscription{id: sub.handle, router: r}, nil
}

// register sends the subscribe request and returns the server-assigned
// subscription ID.
func (r *eventRouter) register(ctx context.Context, eventType, source string) (int64, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	payload, err := r.corr.sendRequest(ctx, wire.OpSubscribe, wire.SubscribeParams{
		EventType: eventType,
		Source:    source,
	})
	if err != nil {
		return 0, err
	}

	var sp wire.SubscribedPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return 0, fmt.Errorf("parse subscribe result: %w", err)
	}

	return sp.SubscriptionID, nil
}

func (r *eventRouter) unsubscribe(ctx context.Context, handle uuid.UUID) error {
	r.mu.Lock()
	sub, ok := r.byHandle[handle]
	if ok {
		delete(r.byHandle, handle)
		delete(r.byServer, sub.serverID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	_, err := r.corr.sendRequest(ctx, wire.OpUnsubscribe, wire.UnsubscribeParams{
		SubscriptionID: sub.serverID,
	})
	if err != nil {
		r.logger.Warn("unsubscribe request failed, subscription removed locally",
			"handle", handle,
			"server_id", sub.serverID,
			"error", err,
		)
		return err
	}

	return nil
}

// dispatch routes one inbound event frame to its subscription. Runs on
// the dispatch goroutine, so events within one subscription keep server
// emission order.
func (r *eventRouter) dispatch(f wire.Frame) {
	r.mu.Lock()
	sub, ok := r.byServer[f.SubscriptionID]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("event for unknown subscription dropped", "subscription_id", f.SubscriptionID)
		return
	}

	if sub.source != "" && f.Source != sub.source {
		return
	}

	r.invoke(sub, Event{
		Type:           sub.eventType,
		Source:         f.Source,
		SubscriptionID: f.SubscriptionID,
		Payload:        f.Payload,
	})
}

// invoke runs the callback with panic isolation: a misbehaving callback
// never takes down the dispatch loop.
func (r *eventRouter) invoke(sub *subscription, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("subscription callback panicked",
				"handle", sub.handle,
				"event_type", sub.eventType,
				"panic", p,
			)
		}
	}()
	sub.fn(ev)
}

// resubscribeAll resubmits every registered subscription after
// reauthentication, swapping in fresh server IDs while keeping handles
// identical. Each logical subscription is re-registered exactly once.
func (r *eventRouter) resubscribeAll(ctx context.Context) {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.byHandle))
	for _, sub := range r.byHandle {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		serverID, err := r.register(ctx, sub.eventType, sub.source)
		if err != nil {
			r.logger.Warn("resubscribe failed",
				"handle", sub.handle,
				"event_type", sub.eventType,
				"error", err,
			)
			continue
		}

		r.mu.Lock()
		if _, still := r.byHandle[sub.handle]; still {
			delete(r.byServer, sub.serverID)
			sub.serverID = serverID
			r.byServer[serverID] = sub
		}
		r.mu.Unlock()

		r.logger.Debug("resubscribed",
			"handle", sub.handle,
			"event_type", sub.eventType,
			"server_id", serverID,
		)
	}
}

// clear drops every registration. Called on permanent session close.
func (r *eventRouter) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandle = make(map[uuid.UUID]*subscription)
	r.byServer = make(map[int64]*subscription)
}

func (r *eventRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHandle)
}
