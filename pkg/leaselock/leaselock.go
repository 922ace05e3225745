// Package leaselock provides per-key mutual exclusion for document updates.
//
// Client stores leases in the Postgres app_locks table so that several
// workers can share one graph; Local keeps them in process memory for
// single-binary deployments and tests. Both honour the same Options.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Locker hands out leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string, opts Options) (*Lease, error)
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait queues the caller until the key is free instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context is canceled when the lease is released or
// lost; work guarded by the lease should run under it.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	cancel  context.CancelCauseFunc
	release func(ctx context.Context) error

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newLease(ctx context.Context, key, token string, release func(ctx context.Context) error) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	return &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		cancel:  cancel,
		release: release,
		stopCh:  make(chan struct{}),
	}
}

// Release frees the key. Calling it more than once is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	return l.release(ctx)
}

// WithLease runs fn while holding key.
func WithLease(ctx context.Context, locker Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := locker.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
