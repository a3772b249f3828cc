package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/drift"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/lifecycle"
	"github.com/openclaw/reconciler-core/internal/manifest"
	"github.com/openclaw/reconciler-core/internal/repository"
	repomem "github.com/openclaw/reconciler-core/internal/repository/memory"
)

type fakeReconciler struct {
	calls atomic.Int32
	ids   []string
}

func (f *fakeReconciler) Reconcile(ctx context.Context, instanceID string) error {
	f.calls.Add(1)
	f.ids = append(f.ids, instanceID)
	return nil
}

type fakeInfraChecker struct {
	states map[string]deploytarget.InfraState
}

func (f *fakeInfraChecker) GetStatus(ctx context.Context, inst *repository.BotInstance) (*lifecycle.StatusResult, error) {
	return &lifecycle.StatusResult{InfraState: f.states[inst.ID]}, nil
}

func TestRunPendingPickupReconcilesEachPendingInstance(t *testing.T) {
	repo := repomem.New()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{ID: "p1", Status: instance.StatusPending}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{ID: "p2", Status: instance.StatusPending}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{ID: "r1", Status: instance.StatusRunning}))

	rec := &fakeReconciler{}
	s := New(repo, drift.New(repo, gateway.NewPool(), nil), rec, nil, Options{})

	require.NoError(t, s.runPendingPickup(context.Background()))
	assert.EqualValues(t, 2, rec.calls.Load())
}

func TestRunStuckStateRecoveryTransitionsOldInstances(t *testing.T) {
	repo := repomem.New()
	old := time.Now().Add(-20 * time.Minute)
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "stuck-1", Status: instance.StatusCreating, UpdatedAt: old,
	}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "fresh-1", Status: instance.StatusReconciling, UpdatedAt: time.Now(),
	}))

	rec := &fakeReconciler{}
	s := New(repo, drift.New(repo, gateway.NewPool(), nil), rec, nil, Options{})

	require.NoError(t, s.runStuckStateRecovery(context.Background()))

	stuck, err := repo.Instances().FindByID(context.Background(), "stuck-1")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusError, stuck.Status)
	assert.Equal(t, 1, stuck.ErrorCount)

	fresh, err := repo.Instances().FindByID(context.Background(), "fresh-1")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusReconciling, fresh.Status)
}

func TestRunDriftScanAutoReconcilesOnlyWhenEnabled(t *testing.T) {
	repo := repomem.New()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "no-manifest", Status: instance.StatusRunning,
	}))

	rec := &fakeReconciler{}
	s := New(repo, drift.New(repo, gateway.NewPool(), nil), rec, nil, Options{AutoReconcile: false})
	require.NoError(t, s.runDriftScan(context.Background()))
	assert.EqualValues(t, 0, rec.calls.Load())
}

func TestSetAutoReconcileTakesEffectOnNextScan(t *testing.T) {
	repo := repomem.New()
	man := &manifest.Manifest{
		Metadata: manifest.Metadata{Name: "alpha", Environment: manifest.EnvironmentDev},
		Spec:     manifest.Spec{OpenClawConfig: map[string]any{"agents": map[string]any{}}},
	}
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "drifted", Status: instance.StatusRunning, DesiredManifest: man,
	}))

	rec := &fakeReconciler{}
	s := New(repo, drift.New(repo, gateway.NewPool(), nil), rec, nil, Options{AutoReconcile: false})

	require.NoError(t, s.runDriftScan(context.Background()))
	assert.EqualValues(t, 0, rec.calls.Load())

	s.SetAutoReconcile(true)
	require.NoError(t, s.runDriftScan(context.Background()))
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestRunOrphanDetectionTransitionsHighErrorInstances(t *testing.T) {
	repo := repomem.New()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "gone", Status: instance.StatusRunning, ErrorCount: orphanErrorThreshold,
	}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "erroring", Status: instance.StatusRunning, ErrorCount: orphanErrorThreshold + 2,
	}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "healthy", Status: instance.StatusRunning, ErrorCount: 1,
	}))

	infra := &fakeInfraChecker{states: map[string]deploytarget.InfraState{
		"gone":     deploytarget.InfraNotInstalled,
		"erroring": deploytarget.InfraError,
		"healthy":  deploytarget.InfraRunning,
	}}
	s := New(repo, drift.New(repo, gateway.NewPool(), nil), &fakeReconciler{}, infra, Options{})

	require.NoError(t, s.runOrphanDetection(context.Background()))

	gone, err := repo.Instances().FindByID(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusStopped, gone.Status)

	erroring, err := repo.Instances().FindByID(context.Background(), "erroring")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusError, erroring.Status)

	healthy, err := repo.Instances().FindByID(context.Background(), "healthy")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusRunning, healthy.Status)
}

func TestRunOrphanDetectionSkipsTransitionsWithoutInfraChecker(t *testing.T) {
	repo := repomem.New()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "gone", Status: instance.StatusRunning, ErrorCount: orphanErrorThreshold,
	}))

	s := New(repo, drift.New(repo, gateway.NewPool(), nil), &fakeReconciler{}, nil, Options{})
	require.NoError(t, s.runOrphanDetection(context.Background()))

	gone, err := repo.Instances().FindByID(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusRunning, gone.Status)
}
