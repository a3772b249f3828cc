// Package a2akey manages the per-instance credentials bots use to
// authenticate calls to one another (spec §3 "A2A Key"). Plaintext is
// returned exactly once, at generation; everything persisted afterward is
// a hash and a prefix, the same "never store the secret" discipline the
// teacher's vault-skill injector assumes exists downstream.
package a2akey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/openclaw/reconciler-core/internal/repository"
)

// Manager creates and rotates A2A keys, maintaining invariant 4 (at most
// one active key per instance/label pair).
type Manager struct {
	keys repository.A2AKeyRepository
}

// New builds a Manager backed by the given key repository.
func New(keys repository.A2AKeyRepository) *Manager {
	return &Manager{keys: keys}
}

// Generated carries a freshly minted key's plaintext alongside the record
// that was persisted. Plaintext is never recoverable after this call
// returns.
type Generated struct {
	Plaintext string
	Record    repository.A2AKey
}

// Ensure creates an active key for (instanceID, label) if none exists yet
// and returns it. It is idempotent: calling it repeatedly for an instance
// that already has an active key under that label is a no-op and returns
// a nil Generated, since the plaintext of a key created by an earlier call
// is no longer available (spec §3 testable property 6).
func (m *Manager) Ensure(ctx context.Context, instanceID, label string) (*Generated, error) {
	existing, err := m.keys.FindActiveByLabel(ctx, instanceID, label)
	if err != nil {
		return nil, fmt.Errorf("a2akey: find active key for %q/%q: %w", instanceID, label, err)
	}
	if existing != nil {
		return nil, nil
	}
	return m.create(ctx, instanceID, label)
}

// Rotate revokes any active key under (instanceID, label) and creates a
// replacement, per spec §3's "Rotation is revoke-then-create."
func (m *Manager) Rotate(ctx context.Context, instanceID, label string) (*Generated, error) {
	if err := m.keys.Revoke(ctx, instanceID, label); err != nil {
		return nil, fmt.Errorf("a2akey: revoke %q/%q: %w", instanceID, label, err)
	}
	return m.create(ctx, instanceID, label)
}

func (m *Manager) create(ctx context.Context, instanceID, label string) (*Generated, error) {
	plaintext, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("a2akey: generate token: %w", err)
	}

	sum := sha256.Sum256([]byte(plaintext))
	rec := repository.A2AKey{
		InstanceID: instanceID,
		KeyHash:    hex.EncodeToString(sum[:]),
		KeyPrefix:  plaintext[:8],
		Label:      label,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := m.keys.Create(ctx, &rec); err != nil {
		return nil, fmt.Errorf("a2akey: persist key for %q/%q: %w", instanceID, label, err)
	}
	return &Generated{Plaintext: plaintext, Record: rec}, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
