package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	tests := []struct {
		name      string
		in        Options
		wantTTL   time.Duration
		wantRenew time.Duration
	}{
		{"zero", Options{}, 5 * time.Minute, 150 * time.Second},
		{"renew above ttl", Options{TTL: 10 * time.Second, RenewEvery: time.Minute}, 10 * time.Second, 5 * time.Second},
		{"short ttl", Options{TTL: time.Second}, time.Second, time.Second},
		{"kept", Options{TTL: time.Minute, RenewEvery: 10 * time.Second}, time.Minute, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			if got.TTL != tt.wantTTL || got.RenewEvery != tt.wantRenew {
				t.Fatalf("expected ttl %v renew %v, got %v %v", tt.wantTTL, tt.wantRenew, got.TTL, got.RenewEvery)
			}
			if got.WaitInterval != 250*time.Millisecond {
				t.Fatalf("expected default wait interval, got %v", got.WaitInterval)
			}
		})
	}
}

func TestLocalBusy(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "doc:a", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Acquire(ctx, "doc:a", Options{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	other, err := l.Acquire(ctx, "doc:b", Options{})
	if err != nil {
		t.Fatalf("expected independent key to be free, got %v", err)
	}
	_ = other.Release(ctx)

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatalf("expected lease context to be canceled after release")
	}
	if l.Held("doc:a") {
		t.Fatalf("expected key to be free after release")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("expected second release to be harmless, got %v", err)
	}
}

func TestLocalWaitQueues(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	first, err := l.Acquire(ctx, "doc:a", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan *Lease)
	go func() {
		lease, err := l.Acquire(ctx, "doc:a", Options{Wait: true})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			close(acquired)
			return
		}
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatalf("expected waiter to block while the key is held")
	case <-time.After(50 * time.Millisecond):
	}

	_ = first.Release(ctx)
	select {
	case lease := <-acquired:
		if lease == nil {
			t.Fatalf("expected lease")
		}
		_ = lease.Release(ctx)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected waiter to acquire after release")
	}
}

func TestLocalWaitCanceled(t *testing.T) {
	l := NewLocal()
	held, _ := l.Acquire(context.Background(), "doc:a", Options{})
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "doc:a", Options{Wait: true}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWithLeaseSerializes(t *testing.T) {
	l := NewLocal()
	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLease(context.Background(), l, "doc:a", Options{Wait: true}, func(ctx context.Context) error {
				mu.Lock()
				running++
				peak = max(peak, running)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected at most one holder, got %d", peak)
	}
}

func TestAcquireEmptyKey(t *testing.T) {
	if _, err := NewLocal().Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
