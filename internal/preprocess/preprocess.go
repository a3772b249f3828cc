// Package preprocess implements the priority-ordered chain of manifest
// transforms that run before config generation, so their output
// participates in the canonical hash and drift detection.
package preprocess

import (
	"sort"
	"sync"

	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/manifest"
)

// Preprocessor mutates a manifest in place before config generation.
type Preprocessor interface {
	Name() string
	Priority() int
	Process(m *manifest.Manifest) error
}

// Chain runs a set of registered Preprocessors in priority order (lower
// runs first). A failing preprocessor is logged and skipped; the chain
// keeps running the rest.
type Chain struct {
	mu    sync.RWMutex
	items []Preprocessor
	log   log.Logger
}

// NewChain returns an empty chain. Register preprocessors with Register.
func NewChain() *Chain {
	return &Chain{log: log.WithName("preprocess")}
}

// Register adds a preprocessor to the chain. Safe to call concurrently with
// Run, but typical usage registers everything at startup.
func (c *Chain) Register(p Preprocessor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, p)
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].Priority() < c.items[j].Priority()
	})
}

// Run executes every registered preprocessor in priority order against m.
// A preprocessor error is logged and does not abort the remaining chain.
func (c *Chain) Run(m *manifest.Manifest) {
	c.mu.RLock()
	items := make([]Preprocessor, len(c.items))
	copy(items, c.items)
	c.mu.RUnlock()

	for _, p := range items {
		if err := p.Process(m); err != nil {
			c.log.Error(err, "preprocessor failed, skipping", "preprocessor", p.Name())
			continue
		}
	}
}
