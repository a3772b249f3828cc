package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/eventbus/memory"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/repository"
	repomem "github.com/openclaw/reconciler-core/internal/repository/memory"
	"github.com/openclaw/reconciler-core/internal/testutil/fakeagent"
)

type fakeTarget struct {
	host string
	port int

	installCalls int
	startCalls   int
	destroyCalls int

	resourcesSupported bool
}

func (f *fakeTarget) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	f.installCalls++
	f.port = opts.Port
	return "fake-id", nil
}
func (f *fakeTarget) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	return nil
}
func (f *fakeTarget) Start(ctx context.Context) error   { f.startCalls++; return nil }
func (f *fakeTarget) Stop(ctx context.Context) error    { return nil }
func (f *fakeTarget) Restart(ctx context.Context) error { return nil }
func (f *fakeTarget) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
}
func (f *fakeTarget) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	return deploytarget.Endpoint{Host: f.host, Port: f.port, Protocol: deploytarget.ProtocolWS}, nil
}
func (f *fakeTarget) Destroy(ctx context.Context) error { f.destroyCalls++; return nil }
func (f *fakeTarget) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	return nil, nil
}
func (f *fakeTarget) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	if !f.resourcesSupported {
		return deploytarget.ResourceUpdateResult{Supported: false, Message: "not supported"}, nil
	}
	return deploytarget.ResourceUpdateResult{Supported: true, RestartRequired: true}, nil
}
func (f *fakeTarget) SetLogCallback(cb deploytarget.LogCallback) {}

type fakeFactory struct {
	target *fakeTarget
}

func (f *fakeFactory) Build(ctx context.Context, inst *repository.BotInstance, target *repository.DeploymentTarget) (deploytarget.Target, error) {
	return f.target, nil
}

type fakeBackingStore struct {
	persisted map[string][]byte
}

func (f *fakeBackingStore) Persist(ctx context.Context, instanceID string, raw []byte) error {
	if f.persisted == nil {
		f.persisted = map[string][]byte{}
	}
	f.persisted[instanceID] = raw
	return nil
}

func TestProvisionOpensGatewayAndPersistsProfile(t *testing.T) {
	agent := fakeagent.New("desired-hash", map[string]any{"gatewayAuth": map[string]any{"token": "tok"}})
	defer agent.Close()
	host, port := agent.Endpoint()

	target := &fakeTarget{host: host, port: port}
	repo := repomem.New()
	bus := memory.New()
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: target}, nil)

	inst := &repository.BotInstance{ID: "inst-1", Name: "alpha"}
	cfg := map[string]any{"gatewayAuth": map[string]any{"token": "tok"}, "gatewayPort": port}

	result, err := mgr.Provision(context.Background(), inst, nil, cfg, "desired-hash")
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, 1, target.installCalls)
	assert.Equal(t, 1, target.startCalls)

	conn, err := repo.GatewayConnections().Get(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "desired-hash", conn.ConfigHash)

	prof, err := repo.Profiles().Get(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.NotEmpty(t, prof.ConfigPath)
}

func TestProvisionPersistsConfigToBackingStore(t *testing.T) {
	agent := fakeagent.New("desired-hash", map[string]any{"gatewayAuth": map[string]any{"token": "tok"}})
	defer agent.Close()
	host, port := agent.Endpoint()

	target := &fakeTarget{host: host, port: port}
	repo := repomem.New()
	bus := memory.New()
	backing := &fakeBackingStore{}
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: target}, backing)

	inst := &repository.BotInstance{ID: "inst-1", Name: "alpha"}
	cfg := map[string]any{"gatewayAuth": map[string]any{"token": "tok"}, "gatewayPort": port}

	_, err := mgr.Provision(context.Background(), inst, nil, cfg, "desired-hash")
	require.NoError(t, err)

	raw, ok := backing.persisted["inst-1"]
	require.True(t, ok)
	assert.Contains(t, string(raw), "gatewayAuth")
}

func TestUpdateNoOpWhenStoredHashMatches(t *testing.T) {
	repo := repomem.New()
	bus := memory.New()
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: &fakeTarget{}}, nil)

	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: "same-hash"}
	result, err := mgr.Update(context.Background(), inst, map[string]any{}, "same-hash")
	require.NoError(t, err)
	assert.Equal(t, "none", result.Method)
}

func TestUpdateAppliesWhenRemoteHashDiffers(t *testing.T) {
	agent := fakeagent.New("old-hash", map[string]any{"foo": "bar"})
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	require.NoError(t, repo.GatewayConnections().Upsert(context.Background(), &repository.GatewayConnection{
		InstanceID: "inst-1", Host: host, Port: port, AuthToken: "tok",
	}))

	bus := memory.New()
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: &fakeTarget{}}, nil)

	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: "stale-hash"}
	result, err := mgr.Update(context.Background(), inst, map[string]any{"foo": "baz"}, "new-hash")
	require.NoError(t, err)
	assert.Equal(t, "apply", result.Method)

	conn, err := repo.GatewayConnections().Get(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", conn.ConfigHash)
}

func TestUpdateRejectedValidationDoesNotFallBackHere(t *testing.T) {
	agent := fakeagent.New("old-hash", map[string]any{"foo": "bar"})
	defer agent.Close()
	agent.RejectNextApply([]string{"bad field"})
	host, port := agent.Endpoint()

	repo := repomem.New()
	require.NoError(t, repo.GatewayConnections().Upsert(context.Background(), &repository.GatewayConnection{
		InstanceID: "inst-1", Host: host, Port: port, AuthToken: "tok",
	}))

	bus := memory.New()
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: &fakeTarget{}}, nil)

	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: "stale-hash"}
	_, err := mgr.Update(context.Background(), inst, map[string]any{"changed": true}, "new-hash")
	require.Error(t, err)
	var rejected *ConfigApplyRejectedError
	assert.True(t, errors.As(err, &rejected))
}

func TestDestroyIsIdempotentWhenAlreadyGone(t *testing.T) {
	repo := repomem.New()
	bus := memory.New()
	target := &fakeTarget{}
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: target}, nil)

	inst := &repository.BotInstance{ID: "inst-1"}
	require.NoError(t, mgr.Destroy(context.Background(), inst))
	assert.Equal(t, 1, target.destroyCalls)

	_, err := repo.GatewayConnections().Get(context.Background(), "inst-1")
	assert.Error(t, err)
}

func TestUpdateResourcesUnsupportedIsTyped(t *testing.T) {
	repo := repomem.New()
	bus := memory.New()
	target := &fakeTarget{resourcesSupported: false}
	mgr := New(repo, gateway.NewPool(), bus, &fakeFactory{target: target}, nil)

	res, err := mgr.UpdateResources(context.Background(), &repository.BotInstance{ID: "inst-1"}, deploytarget.ResourceSpec{CPUCores: 2})
	require.NoError(t, err)
	assert.False(t, res.Supported)
}
