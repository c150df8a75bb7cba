package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markus41/streamcore/internal/wire"
)

// heartbeat periodically issues a correlated keepalive request to detect
// a silently dead connection. A reply must arrive within a grace window
// of twice the interval; a miss signals the supervisor exactly once, then
// the monitor exits. A fresh monitor starts with the next session epoch.
type heartbeat struct {
	interval time.Duration
	corr     *correlator
	clock    Clock
	logger   *slog.Logger

	// onStale forces a single transition into reconnection.
	onStale func(error)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(interval time.Duration, corr *correlator, clock Clock, onStale func(error), logger *slog.Logger) *heartbeat {
	return &heartbeat{
		interval: interval,
		corr:     corr,
		clock:    clock,
		logger:   logger,
		onStale:  onStale,
		stopCh:   make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	go h.run()
}

func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *heartbeat) run() {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), 2*h.interval)
			_, err := h.corr.sendRequest(ctx, wire.OpPing, nil)
			cancel()

			if err == nil {
				continue
			}

			select {
			case <-h.stopCh:
				// Teardown raced the ping; nothing to signal.
				return
			default:
			}

			h.logger.Warn("keepalive missed, forcing reconnect", "error", err)
			h.onStale(fmt.Errorf("keepalive: %w", err))
			return
		}
	}
}
