package lifx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Message is a decoded datagram received from a device.
type Message struct {
	Header   Header
	Response Response
}

// resultSlot carries the outcome of one pending request. The first resolve
// wins; later calls (duplicate or late datagrams) are no-ops.
type resultSlot struct {
	once sync.Once
	ch   chan Message
}

func newResultSlot() *resultSlot {
	return &resultSlot{ch: make(chan Message, 1)}
}

// resolve stores msg if the slot is still empty and reports whether it did.
func (s *resultSlot) resolve(msg Message) bool {
	resolved := false
	s.once.Do(func() {
		s.ch <- msg
		resolved = true
	})
	return resolved
}

// done returns the channel the result is delivered on.
func (s *resultSlot) done() <-chan Message {
	return s.ch
}

// requestLimiter bounds the requests one coordinator has outstanding.
//
// Saturation is never an error: a caller that cannot get a slot sleeps one
// backoff interval and tries again until it gets one or ctx ends.
type requestLimiter struct {
	sem       *semaphore.Weighted
	backoff   time.Duration
	inFlight  atomic.Int64
	peak      atomic.Int64
	saturated atomic.Uint64
}

func newRequestLimiter(limit int64, backoff time.Duration) *requestLimiter {
	return &requestLimiter{
		sem:     semaphore.NewWeighted(limit),
		backoff: backoff,
	}
}

// acquire blocks until a slot is free. It only fails when ctx ends.
func (l *requestLimiter) acquire(ctx context.Context) error {
	for !l.sem.TryAcquire(1) {
		l.saturated.Add(1)
		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	n := l.inFlight.Add(1)
	for {
		peak := l.peak.Load()
		if n <= peak || l.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

func (l *requestLimiter) release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

func (l *requestLimiter) addStats(m map[string]any) {
	m["in_flight"] = l.inFlight.Load()
	m["in_flight_peak"] = l.peak.Load()
	m["saturated"] = l.saturated.Load()
}
