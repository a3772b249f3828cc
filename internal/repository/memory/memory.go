// Package memory provides an in-memory reference implementation of
// repository.Repository, used by tests and local development; the real
// storage backend is left unspecified by the core (spec §6).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/openclaw/reconciler-core/internal/repository"
)

// Store is an in-memory Repository. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	instances   map[string]*repository.BotInstance
	connections map[string]*repository.GatewayConnection
	profiles    map[string]*repository.OpenClawProfile
	targets     map[string]*repository.DeploymentTarget
	keys        map[string][]*repository.A2AKey
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		instances:   map[string]*repository.BotInstance{},
		connections: map[string]*repository.GatewayConnection{},
		profiles:    map[string]*repository.OpenClawProfile{},
		targets:     map[string]*repository.DeploymentTarget{},
		keys:        map[string][]*repository.A2AKey{},
	}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) Instances() repository.InstanceRepository                   { return (*instanceRepo)(s) }
func (s *Store) GatewayConnections() repository.GatewayConnectionRepository { return (*connRepo)(s) }
func (s *Store) Profiles() repository.ProfileRepository                     { return (*profileRepo)(s) }
func (s *Store) DeploymentTargets() repository.DeploymentTargetRepository   { return (*targetRepo)(s) }
func (s *Store) A2AKeys() repository.A2AKeyRepository                       { return (*keyRepo)(s) }

type instanceRepo Store

func (r *instanceRepo) FindByID(ctx context.Context, id string) (*repository.BotInstance, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("repository: instance %q not found", id)
	}
	cp := *inst
	return &cp, nil
}

func (r *instanceRepo) FindByIDWithRelations(ctx context.Context, id string) (*repository.BotInstance, *repository.GatewayConnection, *repository.OpenClawProfile, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil, nil, fmt.Errorf("repository: instance %q not found", id)
	}
	instCp := *inst
	var connCp *repository.GatewayConnection
	if c, ok := s.connections[id]; ok {
		cp := *c
		connCp = &cp
	}
	var profCp *repository.OpenClawProfile
	if p, ok := s.profiles[id]; ok {
		cp := *p
		profCp = &cp
	}
	return &instCp, connCp, profCp, nil
}

func (r *instanceRepo) FindManyByStatus(ctx context.Context, statuses ...string) ([]*repository.BotInstance, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*repository.BotInstance
	for _, inst := range s.instances {
		if want[string(inst.Status)] {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *instanceRepo) Update(ctx context.Context, b *repository.BotInstance) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.instances[b.ID] = &cp
	return nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	return nil
}

type connRepo Store

func (r *connRepo) Upsert(ctx context.Context, c *repository.GatewayConnection) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.connections[c.InstanceID] = &cp
	return nil
}

func (r *connRepo) Get(ctx context.Context, instanceID string) (*repository.GatewayConnection, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[instanceID]
	if !ok {
		return nil, fmt.Errorf("repository: gateway connection for %q not found", instanceID)
	}
	cp := *c
	return &cp, nil
}

func (r *connRepo) Delete(ctx context.Context, instanceID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, instanceID)
	return nil
}

type profileRepo Store

func (r *profileRepo) Upsert(ctx context.Context, p *repository.OpenClawProfile) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.InstanceID] = &cp
	return nil
}

func (r *profileRepo) Get(ctx context.Context, instanceID string) (*repository.OpenClawProfile, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[instanceID]
	if !ok {
		return nil, fmt.Errorf("repository: profile for %q not found", instanceID)
	}
	cp := *p
	return &cp, nil
}

func (r *profileRepo) Delete(ctx context.Context, instanceID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, instanceID)
	return nil
}

type targetRepo Store

func (r *targetRepo) FindByID(ctx context.Context, id string) (*repository.DeploymentTarget, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("repository: deployment target %q not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r *targetRepo) Upsert(ctx context.Context, t *repository.DeploymentTarget) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.targets[t.ID] = &cp
	return nil
}

func (r *targetRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
	return nil
}

type keyRepo Store

func (r *keyRepo) Create(ctx context.Context, k *repository.A2AKey) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.InstanceID] = append(s.keys[k.InstanceID], &cp)
	return nil
}

func (r *keyRepo) FindActiveByLabel(ctx context.Context, instanceID, label string) (*repository.A2AKey, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys[instanceID] {
		if k.Label == label && k.IsActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *keyRepo) Revoke(ctx context.Context, instanceID, label string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys[instanceID] {
		if k.Label == label && k.IsActive {
			k.IsActive = false
		}
	}
	return nil
}
