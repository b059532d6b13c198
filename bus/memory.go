package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTransportClosed = errors.New("transport closed")

// DeadLetter is a message the consumer gave up on.
type DeadLetter struct {
	Body    []byte
	Attempt int
	Reason  string
}

// Memory is an in-process transport. Retries are redelivered after their
// delay; dead letters are kept for inspection.
type Memory struct {
	mu      sync.Mutex
	ready   []*memoryDelivery
	signal  chan struct{}
	dead    []DeadLetter
	sent    int
	closed  bool
	pollFor time.Duration
}

func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1), pollFor: 50 * time.Millisecond}
}

func (m *Memory) Send(_ context.Context, body []byte) error {
	cp := append([]byte(nil), body...)
	return m.push(&memoryDelivery{m: m, body: cp, attempt: 1}, true)
}

func (m *Memory) push(d *memoryDelivery, count bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errTransportClosed
	}
	if count {
		m.sent++
	}
	m.ready = append(m.ready, d)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(m.pollFor)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errTransportClosed
		}
		if len(m.ready) > 0 {
			n := min(max, len(m.ready))
			out := make([]Delivery, n)
			for i := 0; i < n; i++ {
				out[i] = m.ready[i]
			}
			m.ready = append(m.ready[:0], m.ready[n:]...)
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-m.signal:
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Pending returns the bodies waiting to be received, in order.
func (m *Memory) Pending() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.ready))
	for i, d := range m.ready {
		out[i] = d.body
	}
	return out
}

// Drain removes and returns the pending bodies.
func (m *Memory) Drain() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.ready))
	for i, d := range m.ready {
		out[i] = d.body
	}
	m.ready = nil
	return out
}

func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...)
}

// Sent counts messages accepted by Send.
func (m *Memory) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type memoryDelivery struct {
	m       *Memory
	body    []byte
	attempt int
}

func (d *memoryDelivery) Body() []byte { return d.body }
func (d *memoryDelivery) Attempt() int { return d.attempt }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Retry(_ context.Context, delay time.Duration) error {
	next := &memoryDelivery{m: d.m, body: d.body, attempt: d.attempt + 1}
	if delay <= 0 {
		return d.m.push(next, false)
	}
	time.AfterFunc(delay, func() {
		_ = d.m.push(next, false)
	})
	return nil
}

func (d *memoryDelivery) DeadLetter(_ context.Context, reason error) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	d.m.dead = append(d.m.dead, DeadLetter{Body: d.body, Attempt: d.attempt, Reason: msg})
	return nil
}
