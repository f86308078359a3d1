package lifx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResultSlotFirstResolveWins(t *testing.T) {
	s := newResultSlot()

	if !s.resolve(Message{Header: Header{Sequence: 1}}) {
		t.Fatal("first resolve returned false")
	}
	if s.resolve(Message{Header: Header{Sequence: 2}}) {
		t.Error("second resolve returned true")
	}

	select {
	case msg := <-s.done():
		if msg.Header.Sequence != 1 {
			t.Errorf("delivered sequence %d, want 1", msg.Header.Sequence)
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestResultSlotConcurrentResolve(t *testing.T) {
	s := newResultSlot()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 20 {
		wg.Add(1)
		go func(seq uint8) {
			defer wg.Done()
			if s.resolve(Message{Header: Header{Sequence: seq}}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(uint8(i)) //nolint:gosec // small
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestRequestLimiterBlocksAtLimit(t *testing.T) {
	l := newRequestLimiter(2, 5*time.Millisecond)
	ctx := context.Background()

	if err := l.acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := l.acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire succeeded while saturated")
	case <-time.After(30 * time.Millisecond):
	}

	l.release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire did not succeed after release")
	}

	stats := map[string]any{}
	l.addStats(stats)
	if stats["in_flight_peak"].(int64) != 2 {
		t.Errorf("in_flight_peak = %v, want 2", stats["in_flight_peak"])
	}
	if stats["saturated"].(uint64) == 0 {
		t.Error("saturated count not recorded")
	}
}

func TestRequestLimiterContextCancel(t *testing.T) {
	l := newRequestLimiter(1, 5*time.Millisecond)
	if err := l.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquire error = %v, want DeadlineExceeded", err)
	}
}
