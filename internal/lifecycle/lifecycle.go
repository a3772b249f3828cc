// Package lifecycle implements the reconciler's provision/update/restart/
// destroy/getStatus/updateResources operations (spec §4.2): the sequence
// of deployment-target calls plus agent-protocol calls that brings a
// BotInstance's compute and configuration into line with what the engine
// has already generated. Grounded in the teacher's
// internal/cloudhub/core/service composition-root style and
// internal/controller/firmwareupgrade's step-tracked multi-phase
// operations.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
	"github.com/openclaw/reconciler-core/internal/eventbus"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/manifest"
	"github.com/openclaw/reconciler-core/internal/repository"
)

// Sentinel errors the reconcile engine classifies with errors.Is to pick
// the recovery path described by spec §7's error taxonomy.
var (
	// ErrGatewayUnreachable means a WebSocket connect or RPC to the agent
	// exhausted its retries or otherwise failed.
	ErrGatewayUnreachable = errors.New("lifecycle: gateway unreachable")
	// ErrConfigApplyRejected means the agent validated and rejected the
	// applied config; no provision fallback applies to this failure.
	ErrConfigApplyRejected = errors.New("lifecycle: agent rejected config apply")
	// ErrProvisionFailed means the deployment target's install/configure/
	// start sequence itself failed.
	ErrProvisionFailed = errors.New("lifecycle: provision failed")
)

// ConfigApplyRejectedError carries the agent's validation errors verbatim,
// per spec §7's "Record errors verbatim; no fallback to provision."
type ConfigApplyRejectedError struct {
	ValidationErrors []string
}

func (e *ConfigApplyRejectedError) Error() string {
	return fmt.Sprintf("lifecycle: config apply rejected: %v", e.ValidationErrors)
}

func (e *ConfigApplyRejectedError) Unwrap() error { return ErrConfigApplyRejected }

// TargetFactory builds the deploytarget.Target adapter for a BotInstance.
// Satisfied by internal/deploytarget/factory.Factory; kept as an interface
// here so lifecycle does not import every cloud SDK transitively.
type TargetFactory interface {
	Build(ctx context.Context, inst *repository.BotInstance, target *repository.DeploymentTarget) (deploytarget.Target, error)
}

// ProvisionResult is provision()'s outcome.
type ProvisionResult struct {
	Endpoint deploytarget.Endpoint
	Healthy  bool
}

// UpdateResult is update()'s outcome.
type UpdateResult struct {
	Method  string // "none" or "apply"
	Message string
}

// StatusResult is getStatus()'s outcome.
type StatusResult struct {
	InfraState       deploytarget.InfraState
	GatewayConnected bool
	GatewayHealth    *gateway.HealthResult
	ConfigHash       string
}

// Manager drives lifecycle operations against a deployment target and the
// shared gateway pool, emitting step-progress events as it goes.
type Manager struct {
	repo    repository.Repository
	pool    *gateway.Pool
	bus     eventbus.Bus
	factory TargetFactory
	backing backingstore.Store
	log     log.Logger

	targetsMu sync.Mutex
	targets   map[string]deploytarget.Target
}

// New builds a Manager. backing may be nil, in which case update()'s
// backing-store persistence step is skipped entirely (not merely logged
// as a warning, since there is nothing to attempt).
func New(repo repository.Repository, pool *gateway.Pool, bus eventbus.Bus, factory TargetFactory, backing backingstore.Store) *Manager {
	return &Manager{
		repo:    repo,
		pool:    pool,
		bus:     bus,
		factory: factory,
		backing: backing,
		log:     log.WithName("lifecycle"),
		targets: map[string]deploytarget.Target{},
	}
}

// Provision brings up compute, pushes the generated config, starts the
// agent, and opens the gateway connection (spec §4.2 provision()). cfg and
// hash are the already-generated desired config and its canonical hash;
// the engine (§4.1 step 4) generates them once, ahead of the security
// audit, rather than lifecycle regenerating them redundantly.
func (m *Manager) Provision(ctx context.Context, inst *repository.BotInstance, man *manifest.Manifest, cfg map[string]any, hash string) (*ProvisionResult, error) {
	target, err := m.resolveTarget(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve target: %v", ErrProvisionFailed, err)
	}

	m.bus.StartProvisioning(inst.ID, string(inst.DeploymentType))

	profileName := inst.ProfileName
	if profileName == "" {
		profileName = inst.Name
	}
	port := inst.GatewayPort
	if port == 0 {
		port = intFromConfig(cfg, "gatewayPort", 18789)
	}
	authToken := authTokenFromConfig(cfg)
	env := envVarsFromManifest(man)

	runStep := func(stepID string, fn func() error) error {
		m.bus.UpdateStep(inst.ID, stepID, eventbus.StepInProgress, "")
		if err := fn(); err != nil {
			m.bus.UpdateStep(inst.ID, stepID, eventbus.StepError, err.Error())
			m.bus.FailProvisioning(inst.ID, err.Error())
			return err
		}
		m.bus.UpdateStep(inst.ID, stepID, eventbus.StepCompleted, "")
		return nil
	}

	if err := runStep("install", func() error {
		_, err := target.Install(ctx, deploytarget.InstallOptions{
			ProfileName: profileName,
			Version:     inst.OpenClawVersion,
			Port:        port,
			EnvVars:     env,
			AuthToken:   authToken,
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: install: %v", ErrProvisionFailed, err)
	}

	if err := runStep("configure", func() error {
		if err := target.Configure(ctx, profileName, port, cfg, env); err != nil {
			return err
		}
		if m.backing == nil {
			return nil
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config for backing store: %w", err)
		}
		if err := m.backing.Persist(ctx, inst.ID, raw); err != nil {
			m.log.Warn("failed to persist initial config to backing store; target already holds it", "instanceId", inst.ID, "error", err)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: configure: %v", ErrProvisionFailed, err)
	}

	if err := runStep("start", func() error { return target.Start(ctx) }); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrProvisionFailed, err)
	}

	var endpoint deploytarget.Endpoint
	if err := runStep("endpoint", func() error {
		ep, err := target.GetEndpoint(ctx)
		endpoint = ep
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", ErrProvisionFailed, err)
	}

	var client *gateway.Client
	if err := runStep("connect", func() error {
		c, err := m.pool.Get(ctx, inst.ID, gateway.Endpoint{
			Host:     endpoint.Host,
			Port:     endpoint.Port,
			Protocol: string(endpoint.Protocol),
		}, authToken)
		client = c
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}

	var health *gateway.HealthResult
	if err := runStep("health", func() error {
		h, err := client.Health(ctx)
		health = h
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: health: %v", ErrGatewayUnreachable, err)
	}

	now := time.Now()
	if err := m.repo.GatewayConnections().Upsert(ctx, &repository.GatewayConnection{
		InstanceID:    inst.ID,
		Host:          endpoint.Host,
		Port:          endpoint.Port,
		AuthToken:     authToken,
		Status:        repository.ConnectionConnected,
		ConfigHash:    hash,
		LastHeartbeat: now,
	}); err != nil {
		return nil, fmt.Errorf("lifecycle: upsert gateway connection: %w", err)
	}

	if err := m.repo.Profiles().Upsert(ctx, &repository.OpenClawProfile{
		InstanceID:    inst.ID,
		ConfigPath:    profileConfigPath(profileName),
		StateDir:      profileStateDir(profileName),
		WorkspaceRoot: profileWorkspaceRoot(profileName),
		BasePort:      port,
	}); err != nil {
		return nil, fmt.Errorf("lifecycle: upsert profile: %w", err)
	}

	inst.ProfileName = profileName
	inst.GatewayPort = port

	m.bus.CompleteProvisioning(inst.ID)

	return &ProvisionResult{Endpoint: endpoint, Healthy: health.OK}, nil
}

// Update pushes the generated config to an already-provisioned instance
// (spec §4.2 update()). It is a no-op both when the stored hash already
// matches and when the agent's own remote hash already matches, in which
// case no config.apply is issued.
func (m *Manager) Update(ctx context.Context, inst *repository.BotInstance, cfg map[string]any, hash string) (*UpdateResult, error) {
	if inst.ConfigHash == hash {
		return &UpdateResult{Method: "none", Message: "Config already up-to-date"}, nil
	}

	conn, err := m.repo.GatewayConnections().Get(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: no gateway connection on record: %v", ErrGatewayUnreachable, err)
	}

	client, err := m.pool.Get(ctx, inst.ID, gateway.Endpoint{Host: conn.Host, Port: conn.Port, Protocol: "ws"}, conn.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}

	remote, err := client.ConfigGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: config.get: %v", ErrGatewayUnreachable, err)
	}
	if remote.Hash == hash {
		return &UpdateResult{Method: "none", Message: "Config already up-to-date"}, nil
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: marshal config: %w", err)
	}

	applyResult, err := client.ConfigApply(ctx, string(raw), remote.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: config.apply: %v", ErrGatewayUnreachable, err)
	}
	if !applyResult.OK || len(applyResult.ValidationErrors) > 0 {
		return nil, &ConfigApplyRejectedError{ValidationErrors: applyResult.ValidationErrors}
	}

	if m.backing != nil {
		if err := m.backing.Persist(ctx, inst.ID, raw); err != nil {
			m.log.Warn("failed to persist applied config to backing store; agent already holds it in memory", "instanceId", inst.ID, "error", err)
		}
	}

	conn.ConfigHash = hash
	conn.LastHeartbeat = time.Now()
	if err := m.repo.GatewayConnections().Upsert(ctx, conn); err != nil {
		m.log.Warn("failed to persist updated gateway connection hash", "instanceId", inst.ID, "error", err)
	}

	return &UpdateResult{Method: "apply", Message: "Config applied"}, nil
}

// Restart delegates to the target's restart() and increments RestartCount.
func (m *Manager) Restart(ctx context.Context, inst *repository.BotInstance) error {
	target, err := m.resolveTarget(ctx, inst)
	if err != nil {
		return fmt.Errorf("lifecycle: restart: resolve target: %w", err)
	}
	if err := target.Restart(ctx); err != nil {
		return fmt.Errorf("lifecycle: restart: %w", err)
	}
	inst.RestartCount++
	return nil
}

// Destroy evicts the gateway connection, tears down the target's
// resources (tolerating a target that is already gone), and deletes the
// instance's gateway-connection and profile records. The BotInstance record
// and its A2A keys are left in place.
func (m *Manager) Destroy(ctx context.Context, inst *repository.BotInstance) error {
	m.pool.Evict(inst.ID)

	if target, err := m.resolveTarget(ctx, inst); err == nil {
		if err := target.Destroy(ctx); err != nil {
			m.log.Warn("destroy: target cleanup failed, instance may already be gone", "instanceId", inst.ID, "error", err)
		}
	} else {
		m.log.Warn("destroy: could not resolve target, skipping target cleanup", "instanceId", inst.ID, "error", err)
	}
	m.evictTarget(inst.ID)

	if err := m.repo.GatewayConnections().Delete(ctx, inst.ID); err != nil {
		m.log.Warn("destroy: delete gateway connection failed", "instanceId", inst.ID, "error", err)
	}
	if err := m.repo.Profiles().Delete(ctx, inst.ID); err != nil {
		m.log.Warn("destroy: delete profile failed", "instanceId", inst.ID, "error", err)
	}
	return nil
}

// GetStatus concurrently queries the target's infra state and the agent's
// own status RPC (spec §4.2 getStatus()).
func (m *Manager) GetStatus(ctx context.Context, inst *repository.BotInstance) (*StatusResult, error) {
	target, err := m.resolveTarget(ctx, inst)
	if err != nil {
		return &StatusResult{InfraState: deploytarget.InfraUnknown}, nil
	}

	var infra deploytarget.StatusResult
	var health *gateway.HealthResult
	var agentStatus *gateway.StatusResult
	var gwErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if s, err := target.GetStatus(ctx); err == nil {
			infra = s
		} else {
			infra = deploytarget.StatusResult{State: deploytarget.InfraError, Message: err.Error()}
		}
	}()
	go func() {
		defer wg.Done()
		conn, err := m.repo.GatewayConnections().Get(ctx, inst.ID)
		if err != nil {
			gwErr = err
			return
		}
		client, err := m.pool.Get(ctx, inst.ID, gateway.Endpoint{Host: conn.Host, Port: conn.Port, Protocol: "ws"}, conn.AuthToken)
		if err != nil {
			gwErr = err
			return
		}
		health, _ = client.Health(ctx)
		agentStatus, _ = client.Status(ctx)
	}()
	wg.Wait()

	res := &StatusResult{
		InfraState:       infra.State,
		GatewayConnected: gwErr == nil && health != nil,
		GatewayHealth:    health,
	}
	if agentStatus != nil {
		res.ConfigHash = agentStatus.ConfigHash
	}
	return res, nil
}

// UpdateResources delegates to the target's resource-update capability;
// targets without one (local containers) already return a well-typed
// "not supported" failure rather than erroring.
func (m *Manager) UpdateResources(ctx context.Context, inst *repository.BotInstance, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	target, err := m.resolveTarget(ctx, inst)
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, fmt.Errorf("lifecycle: update resources: resolve target: %w", err)
	}
	return target.UpdateResources(ctx, spec)
}

func (m *Manager) resolveTarget(ctx context.Context, inst *repository.BotInstance) (deploytarget.Target, error) {
	m.targetsMu.Lock()
	if t, ok := m.targets[inst.ID]; ok {
		m.targetsMu.Unlock()
		return t, nil
	}
	m.targetsMu.Unlock()

	var depTarget *repository.DeploymentTarget
	if inst.DeploymentTargetID != "" {
		if dt, err := m.repo.DeploymentTargets().FindByID(ctx, inst.DeploymentTargetID); err == nil {
			depTarget = dt
		}
	}

	t, err := m.factory.Build(ctx, inst, depTarget)
	if err != nil {
		return nil, err
	}

	m.targetsMu.Lock()
	m.targets[inst.ID] = t
	m.targetsMu.Unlock()
	return t, nil
}

func (m *Manager) evictTarget(instanceID string) {
	m.targetsMu.Lock()
	delete(m.targets, instanceID)
	m.targetsMu.Unlock()
}

func authTokenFromConfig(cfg map[string]any) string {
	auth, _ := cfg["gatewayAuth"].(map[string]any)
	if auth == nil {
		return ""
	}
	if tok, ok := auth["token"].(string); ok {
		return tok
	}
	return ""
}

func intFromConfig(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func envVarsFromManifest(man *manifest.Manifest) map[string]string {
	if man == nil {
		return nil
	}
	env := make(map[string]string, len(man.Metadata.Labels))
	for k, v := range man.Metadata.Labels {
		env["OPENCLAW_LABEL_"+k] = v
	}
	return env
}

func profileConfigPath(profileName string) string {
	return "/etc/openclaw/" + profileName + "/config.json"
}

func profileStateDir(profileName string) string {
	return "/var/lib/openclaw/" + profileName
}

func profileWorkspaceRoot(profileName string) string {
	return "/workspace/" + profileName
}
