package journal

import "sync"

// eventBuffer is a growable FIFO between event producers and the flush
// loop. It doubles its capacity when it reaches 70% full, so a slow
// database never back-pressures the session engine.
type eventBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Event
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool
}

func newEventBuffer(initialCapacity int) *eventBuffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &eventBuffer{
		buf:      make([]Event, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push adds an event, growing the buffer as needed. Returns false if the
// buffer is closed.
func (b *eventBuffer) push(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = ev
	b.tail = (b.tail + 1) % b.capacity
	b.count++

	b.cond.Signal()
	return true
}

// pop removes and returns an event, blocking until one is available or
// the buffer is closed. Returns false once closed and drained.
func (b *eventBuffer) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 && b.closed {
		return Event{}, false
	}

	ev := b.buf[b.head]
	b.buf[b.head] = Event{}
	b.head = (b.head + 1) % b.capacity
	b.count--

	return ev, true
}

// close stops accepting events. Consumers drain the remainder, then pop
// reports closed.
func (b *eventBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

func (b *eventBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// grow doubles the buffer capacity. Must be called with lock held.
func (b *eventBuffer) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]Event, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
}
