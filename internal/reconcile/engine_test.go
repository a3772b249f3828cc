package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/reconciler-core/internal/a2akey"
	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/drift"
	"github.com/openclaw/reconciler-core/internal/eventbus/memory"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/lifecycle"
	"github.com/openclaw/reconciler-core/internal/manifest"
	"github.com/openclaw/reconciler-core/internal/preprocess"
	"github.com/openclaw/reconciler-core/internal/repository"
	repomem "github.com/openclaw/reconciler-core/internal/repository/memory"
	"github.com/openclaw/reconciler-core/internal/security/baseline"
	"github.com/openclaw/reconciler-core/internal/testutil/fakeagent"
)

type stubTarget struct {
	host string
	port int
}

func (s *stubTarget) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	return "fake-id", nil
}
func (s *stubTarget) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	return nil
}
func (s *stubTarget) Start(ctx context.Context) error   { return nil }
func (s *stubTarget) Stop(ctx context.Context) error    { return nil }
func (s *stubTarget) Restart(ctx context.Context) error { return nil }
func (s *stubTarget) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
}
func (s *stubTarget) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	return deploytarget.Endpoint{Host: s.host, Port: s.port, Protocol: deploytarget.ProtocolWS}, nil
}
func (s *stubTarget) Destroy(ctx context.Context) error { return nil }
func (s *stubTarget) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	return nil, nil
}
func (s *stubTarget) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	return deploytarget.ResourceUpdateResult{Supported: false}, nil
}
func (s *stubTarget) SetLogCallback(cb deploytarget.LogCallback) {}

type stubFactory struct{ target *stubTarget }

func (f *stubFactory) Build(ctx context.Context, inst *repository.BotInstance, target *repository.DeploymentTarget) (deploytarget.Target, error) {
	return f.target, nil
}

func newTestEngine(t *testing.T, repo repository.Repository, target *stubTarget) *Engine {
	t.Helper()
	pool := gateway.NewPool()
	bus := memory.New()
	lc := lifecycle.New(repo, pool, bus, &stubFactory{target: target}, nil)
	detector := drift.New(repo, pool, preprocess.NewChain())
	keys := a2akey.New(repo.A2AKeys())
	return New(repo, preprocess.NewChain(), baseline.New(), lc, detector, keys)
}

func sampleManifestWithAuth() *manifest.Manifest {
	return &manifest.Manifest{
		APIVersion: "v2",
		Kind:       "BotInstanceManifest",
		Metadata:   manifest.Metadata{Name: "alpha", Environment: manifest.EnvironmentDev},
		Spec: manifest.Spec{OpenClawConfig: map[string]any{
			"gatewayAuth": map[string]any{"token": "seed-token"},
		}},
	}
}

func TestReconcileNewInstanceProvisions(t *testing.T) {
	agent := fakeagent.New("", nil)
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	target := &stubTarget{host: host, port: port}
	engine := newTestEngine(t, repo, target)

	man := sampleManifestWithAuth()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "inst-1", Status: instance.StatusCreating, DesiredManifest: man,
	}))

	result, err := engine.ReconcileDetailed(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, result.Success)

	inst, err := repo.Instances().FindByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusRunning, inst.Status)
	assert.NotEmpty(t, inst.ConfigHash)
	assert.NotNil(t, inst.RunningSince)
}

func TestReconcileIsIdempotentOnSecondPass(t *testing.T) {
	agent := fakeagent.New("", nil)
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	target := &stubTarget{host: host, port: port}
	engine := newTestEngine(t, repo, target)

	man := sampleManifestWithAuth()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "inst-1", Status: instance.StatusCreating, DesiredManifest: man,
	}))

	_, err := engine.ReconcileDetailed(context.Background(), "inst-1")
	require.NoError(t, err)
	first, err := repo.Instances().FindByID(context.Background(), "inst-1")
	require.NoError(t, err)

	result, err := engine.ReconcileDetailed(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, result.Success)

	second, err := repo.Instances().FindByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, first.ConfigHash, second.ConfigHash)
	assert.Contains(t, result.Changes, "update: none")
}

func TestReconcileFallsBackToProvisionWhenGatewayUnreachable(t *testing.T) {
	agent := fakeagent.New("", nil)
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	target := &stubTarget{host: host, port: port}
	engine := newTestEngine(t, repo, target)

	man := sampleManifestWithAuth()
	now := repo // placeholder to keep gofmt happy about unused import ordering
	_ = now

	inst := &repository.BotInstance{
		ID:              "inst-1",
		Status:          instance.StatusRunning,
		DesiredManifest: man,
		ConfigHash:      "stale-hash-from-before-a-restart",
	}
	ts := pastTimestamp()
	inst.LastReconcileAt = &ts
	require.NoError(t, repo.Instances().Update(context.Background(), inst))
	// No GatewayConnection on record: simulates an instance whose agent
	// connection was lost (e.g. a recycled cloud VM).

	result, err := engine.ReconcileDetailed(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Changes, "update failed, provision fallback succeeded")
}

func TestReconcileInvalidManifestFailsFast(t *testing.T) {
	repo := repomem.New()
	engine := newTestEngine(t, repo, &stubTarget{})

	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "inst-1", Status: instance.StatusCreating, DesiredManifest: nil,
	}))

	err := engine.Reconcile(context.Background(), "inst-1")
	require.Error(t, err)

	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindInvalidManifest, rerr.Kind)

	inst, err := repo.Instances().FindByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, instance.StatusError, inst.Status)
	assert.Equal(t, 1, inst.ErrorCount)
}
