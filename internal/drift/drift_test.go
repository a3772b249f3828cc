package drift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/reconciler-core/internal/configgen"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/manifest"
	"github.com/openclaw/reconciler-core/internal/repository"
	repomem "github.com/openclaw/reconciler-core/internal/repository/memory"
	"github.com/openclaw/reconciler-core/internal/testutil/fakeagent"
)

func sampleManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Metadata: manifest.Metadata{Name: "alpha", Environment: manifest.EnvironmentDev},
		Spec:     manifest.Spec{OpenClawConfig: map[string]any{"agents": map[string]any{}}},
	}
}

func desiredHashFor(t *testing.T, man *manifest.Manifest) (string, map[string]any) {
	t.Helper()
	cfg, err := configgen.Generate(man, nil)
	require.NoError(t, err)
	hash, err := configgen.CanonicalHash(cfg)
	require.NoError(t, err)
	return hash, cfg
}

func TestCheckReportsNoFindingsWhenInSync(t *testing.T) {
	man := sampleManifest()
	hash, cfg := desiredHashFor(t, man)

	agent := fakeagent.New(hash, cfg)
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	require.NoError(t, repo.GatewayConnections().Upsert(context.Background(), &repository.GatewayConnection{
		InstanceID: "inst-1", Host: host, Port: port, AuthToken: "tok",
	}))

	d := New(repo, gateway.NewPool(), nil)
	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: hash, DesiredManifest: man}

	res, err := d.Check(context.Background(), inst)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, instance.HealthHealthy, res.Health)
}

func TestCheckCriticalWhenGatewayUnreachable(t *testing.T) {
	man := sampleManifest()
	hash, _ := desiredHashFor(t, man)

	repo := repomem.New()
	// No GatewayConnection on record at all.
	d := New(repo, gateway.NewPool(), nil)
	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: hash, DesiredManifest: man}

	res, err := d.Check(context.Background(), inst)
	require.NoError(t, err)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "gatewayConnection", res.Findings[0].Field)
	assert.Equal(t, SeverityCritical, res.Findings[0].Severity)
	assert.Equal(t, instance.HealthUnknown, res.Health)
}

func TestCheckWarningWhenStoredHashStale(t *testing.T) {
	man := sampleManifest()
	hash, cfg := desiredHashFor(t, man)

	agent := fakeagent.New(hash, cfg)
	defer agent.Close()
	host, port := agent.Endpoint()

	repo := repomem.New()
	require.NoError(t, repo.GatewayConnections().Upsert(context.Background(), &repository.GatewayConnection{
		InstanceID: "inst-1", Host: host, Port: port, AuthToken: "tok",
	}))

	d := New(repo, gateway.NewPool(), nil)
	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: "stale-hash", DesiredManifest: man}

	res, err := d.Check(context.Background(), inst)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "configHash", res.Findings[0].Field)
	assert.Equal(t, SeverityWarning, res.Findings[0].Severity)
	assert.Equal(t, instance.HealthDegraded, res.Health)
}

func TestCheckCriticalWhenAgentUnhealthy(t *testing.T) {
	man := sampleManifest()
	hash, cfg := desiredHashFor(t, man)

	agent := fakeagent.New(hash, cfg)
	defer agent.Close()
	agent.SetHealthy(false)
	host, port := agent.Endpoint()

	repo := repomem.New()
	require.NoError(t, repo.GatewayConnections().Upsert(context.Background(), &repository.GatewayConnection{
		InstanceID: "inst-1", Host: host, Port: port, AuthToken: "tok",
	}))

	d := New(repo, gateway.NewPool(), nil)
	inst := &repository.BotInstance{ID: "inst-1", ConfigHash: hash, DesiredManifest: man}

	res, err := d.Check(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, instance.HealthUnhealthy, res.Health)

	var sawHealth bool
	for _, f := range res.Findings {
		if f.Field == "health" {
			sawHealth = true
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.True(t, sawHealth)
}

func TestFleetScanSkipsInstancesNotRunningOrDegraded(t *testing.T) {
	man := sampleManifest()
	hash, _ := desiredHashFor(t, man)

	repo := repomem.New()
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "running-1", Status: instance.StatusRunning, ConfigHash: hash, DesiredManifest: man,
	}))
	require.NoError(t, repo.Instances().Update(context.Background(), &repository.BotInstance{
		ID: "stopped-1", Status: instance.StatusStopped, ConfigHash: hash, DesiredManifest: man,
	}))

	d := New(repo, gateway.NewPool(), nil)
	results, err := d.FleetScan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "running-1", results[0].InstanceID)
}
