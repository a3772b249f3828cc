package gateway

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/openclaw/reconciler-core/internal/metrics"
)

// Pool is the shared instanceID -> Client map every reconciler operation
// draws from (spec §5). Connect-if-absent is serialized per key via
// singleflight so concurrent callers for the same instance share one dial.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
	group   singleflight.Group
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{clients: map[string]*Client{}}
}

// Get returns the pooled client for instanceID, dialing endpoint if none
// exists yet.
func (p *Pool) Get(ctx context.Context, instanceID string, endpoint Endpoint, authToken string) (*Client, error) {
	p.mu.RLock()
	if c, ok := p.clients[instanceID]; ok {
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do(instanceID, func() (any, error) {
		p.mu.RLock()
		if c, ok := p.clients[instanceID]; ok {
			p.mu.RUnlock()
			return c, nil
		}
		p.mu.RUnlock()

		c, err := Dial(ctx, endpoint, authToken)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.clients[instanceID] = c
		p.mu.Unlock()
		metrics.GatewayPoolSize.Set(float64(p.size()))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Evict closes and removes the pooled client for instanceID, if any.
func (p *Pool) Evict(instanceID string) {
	p.mu.Lock()
	c, ok := p.clients[instanceID]
	if ok {
		delete(p.clients, instanceID)
	}
	p.mu.Unlock()
	if ok {
		_ = c.Close()
		metrics.GatewayPoolSize.Set(float64(p.size()))
	}
}

// size returns the current client count. Callers must not hold p.mu.
func (p *Pool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
