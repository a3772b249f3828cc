package a2akey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/reconciler-core/internal/repository/memory"
)

func TestEnsureCreatesExactlyOneActiveKey(t *testing.T) {
	store := memory.New()
	mgr := New(store.A2AKeys())
	ctx := context.Background()

	first, err := mgr.Ensure(ctx, "inst-1", "delegation")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Len(t, first.Plaintext, 64)
	assert.True(t, first.Record.IsActive)

	second, err := mgr.Ensure(ctx, "inst-1", "delegation")
	require.NoError(t, err)
	assert.Nil(t, second, "Ensure must be a no-op once an active key exists")

	active, err := store.A2AKeys().FindActiveByLabel(ctx, "inst-1", "delegation")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.Record.KeyHash, active.KeyHash)
}

func TestRotateRevokesThenCreates(t *testing.T) {
	store := memory.New()
	mgr := New(store.A2AKeys())
	ctx := context.Background()

	first, err := mgr.Ensure(ctx, "inst-1", "delegation")
	require.NoError(t, err)

	second, err := mgr.Rotate(ctx, "inst-1", "delegation")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Record.KeyHash, second.Record.KeyHash)

	active, err := store.A2AKeys().FindActiveByLabel(ctx, "inst-1", "delegation")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.Record.KeyHash, active.KeyHash, "exactly one key must be active after rotation")
}
