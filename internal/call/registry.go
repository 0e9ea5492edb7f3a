package call

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("call not found")

// Registry tracks live calls so the service can report an active-call count
// and reap connections that went silent without closing.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*Call),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook installs a callback fired for each expired call, outside the
// registry lock. The transport uses it to close the underlying socket.
func (r *Registry) SetExpireHook(hook func(*Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Add(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

func (r *Registry) Get(id string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// StartJanitor reaps idle calls until ctx is cancelled.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()
	var expired []*Call

	r.mu.Lock()
	for id, c := range r.calls {
		if now.Sub(c.LastActivityAt()) < r.inactivityTimeout {
			continue
		}
		delete(r.calls, id)
		expired = append(expired, c)
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, c := range expired {
		c.Stop()
		if hook != nil {
			hook(c)
		}
	}
}
