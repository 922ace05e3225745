package leaselock

import (
	"context"
	"errors"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Local implements Locker in process memory. Leases never expire; TTL and
// renewal options are ignored.
type Local struct {
	mu   sync.Mutex
	held map[string]*localHold
}

type localHold struct {
	token    string
	released chan struct{}
}

func NewLocal() *Local {
	return &Local{held: map[string]*localHold{}}
}

func (m *Local) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		h, busy := m.held[key]
		if !busy {
			m.held[key] = &localHold{token: token, released: make(chan struct{})}
			m.mu.Unlock()
			break
		}
		wait := h.released
		m.mu.Unlock()

		if !opts.Wait {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}

	return newLease(ctx, key, token, func(context.Context) error {
		m.release(key, token)
		return nil
	}), nil
}

func (m *Local) release(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[key]
	if !ok || h.token != token {
		return
	}
	delete(m.held, key)
	close(h.released)
}

// Held reports whether key is currently leased.
func (m *Local) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
