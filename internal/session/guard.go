package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

const guardKey = "session"

// Guard ensures exactly one initialization sequence runs when multiple
// callers concurrently request the shared client. It is an explicit
// registry object, never a package-level variable; callers own its
// lifetime.
type Guard struct {
	mu      sync.Mutex
	current *Client
	group   singleflight.Group
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{}
}

// GetOrCreate returns the existing client if present. Otherwise it runs
// factory exactly once; concurrent callers join the in-flight attempt and
// share its result. A failed attempt leaves no marker behind, so a later
// call retries cleanly.
func (g *Guard) GetOrCreate(ctx context.Context, factory func(context.Context) (*Client, error)) (*Client, error) {
	g.mu.Lock()
	if c := g.current; c != nil {
		g.mu.Unlock()
		return c, nil
	}
	g.mu.Unlock()

	v, err, _ := g.group.Do(guardKey, func() (interface{}, error) {
		// A racing call may have stored a client between the fast-path
		// check and joining the flight.
		g.mu.Lock()
		if c := g.current; c != nil {
			g.mu.Unlock()
			return c, nil
		}
		g.mu.Unlock()

		c, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.current = c
		g.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Current returns the stored client, or nil if none was created yet.
func (g *Guard) Current() *Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Reset clears all singleton state. For test teardown only; it does not
// disconnect the stored client.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
	g.group.Forget(guardKey)
}
