package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markus41/streamcore/internal/wire"
)

// autoReplySend acks every request immediately, handing out incrementing
// server subscription IDs.
type autoReplySend struct {
	corr       *correlator
	nextSubID  int64
	subscribes int64
}

func (s *autoReplySend) send(data []byte) error {
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	frame := wire.Frame{Type: wire.TypeResult, ID: req.ID, OK: true}
	if req.Op == wire.OpSubscribe {
		sid := atomic.AddInt64(&s.nextSubID, 1)
		atomic.AddInt64(&s.subscribes, 1)
		frame.Payload = json.RawMessage(fmt.Sprintf(`{"subscription_id":%d}`, sid))
	}

	// Reply from another goroutine, as the dispatch loop would.
	go s.corr.resolve(frame)
	return nil
}

func (s *autoReplySend) subscribeCount() int64 {
	return atomic.LoadInt64(&s.subscribes)
}

func newTestRouter() (*eventRouter, *autoReplySend) {
	sink := &autoReplySend{}
	corr := newCorrelator(64, sink.send, systemClock{}, discardLogger())
	sink.corr = corr
	return newEventRouter(corr, time.Second, discardLogger()), sink
}

func TestRouter_DispatchWithSourceFilter(t *testing.T) {
	router, _ := newTestRouter()

	var mu sync.Mutex
	var got []Event
	_, err := router.subscribe(context.Background(), "metric", "alpha", func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Wrong source: silently filtered.
	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1, Source: "beta"})
	// Matching source: delivered.
	router.dispatch(wire.Frame{
		Type: wire.TypeEvent, SubscriptionID: 1, Source: "alpha",
		Payload: json.RawMessage(`{"v":42}`),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Type != "metric" || got[0].Source != "alpha" {
		t.Errorf("event = %+v, want type metric from alpha", got[0])
	}
	if string(got[0].Payload) != `{"v":42}` {
		t.Errorf("payload = %s", got[0].Payload)
	}
}

func TestRouter_DispatchUnknownSubscription(t *testing.T) {
	router, _ := newTestRouter()
	// Must not panic; the anomaly is logged and dropped.
	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 77})
}

func TestRouter_PanicIsolation(t *testing.T) {
	router, _ := newTestRouter()

	var calls int32
	_, err := router.subscribe(context.Background(), "metric", "", func(ev Event) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("listener bug")
		}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1})
	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1})

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("callback ran %d times, want 2 (panic must not kill dispatch)", got)
	}
}

func TestRouter_Unsubscribe(t *testing.T) {
	router, sink := newTestRouter()

	var delivered int32
	sub, err := router.subscribe(context.Background(), "metric", "", func(ev Event) {
		atomic.AddInt32(&delivered, 1)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if router.count() != 0 {
		t.Errorf("count = %d after unsubscribe, want 0", router.count())
	}

	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1})
	if atomic.LoadInt32(&delivered) != 0 {
		t.Error("event delivered after unsubscribe")
	}

	// A removed subscription never resurrects on reconnect.
	before := sink.subscribeCount()
	router.resubscribeAll(context.Background())
	if sink.subscribeCount() != before {
		t.Error("unsubscribed listener was re-registered")
	}
}

func TestRouter_UnsubscribeTwiceIsNoop(t *testing.T) {
	router, _ := newTestRouter()

	sub, err := router.subscribe(context.Background(), "metric", "", func(Event) {})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("second unsubscribe = %v, want nil", err)
	}
}

func TestRouter_ResubscribeAllSwapsServerIDs(t *testing.T) {
	router, sink := newTestRouter()

	var mu sync.Mutex
	delivered := make(map[string]int)

	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := router.subscribe(context.Background(), "metric", name, func(ev Event) {
			mu.Lock()
			delivered[name]++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("subscribe %s failed: %v", name, err)
		}
	}

	router.resubscribeAll(context.Background())

	if got := sink.subscribeCount(); got != 6 {
		t.Errorf("subscribe requests = %d, want 6 (each re-registered exactly once)", got)
	}
	if router.count() != 3 {
		t.Errorf("count = %d after resubscribe, want 3", router.count())
	}

	// Old server IDs are dead.
	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1, Source: "a"})
	mu.Lock()
	if delivered["a"] != 0 {
		t.Error("event on stale server ID was delivered")
	}
	mu.Unlock()

	// Fresh IDs route to the same listeners. Which fresh ID belongs to
	// which listener depends on map order, so derive it from the router.
	router.mu.Lock()
	bySource := make(map[string]int64)
	for sid, sub := range router.byServer {
		bySource[sub.source] = sid
	}
	router.mu.Unlock()

	for _, name := range []string{"a", "b", "c"} {
		sid, ok := bySource[name]
		if !ok || sid < 4 {
			t.Fatalf("listener %s has server ID %d, want a fresh one", name, sid)
		}
		router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: sid, Source: name})
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"a", "b", "c"} {
		if delivered[name] != 1 {
			t.Errorf("listener %s delivered %d, want 1", name, delivered[name])
		}
	}
}

func TestRouter_ClearDropsEverything(t *testing.T) {
	router, _ := newTestRouter()

	var delivered int32
	if _, err := router.subscribe(context.Background(), "metric", "", func(Event) {
		atomic.AddInt32(&delivered, 1)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	router.clear()

	if router.count() != 0 {
		t.Errorf("count = %d after clear, want 0", router.count())
	}
	router.dispatch(wire.Frame{Type: wire.TypeEvent, SubscriptionID: 1})
	if atomic.LoadInt32(&delivered) != 0 {
		t.Error("event delivered after clear")
	}
}
