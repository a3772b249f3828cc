// Package drift implements the three-way config fingerprint comparison
// (desired vs. stored vs. agent-reported) plus liveness/status probes that
// the scheduler and the reconcile engine both consult (spec §4.5). Grounded
// in the teacher's internal/controller/firmwareupgrade.Reconciler, which
// aggregates a multi-step status from a sequence of independently-failing
// probes the same way this package aggregates findings.
package drift

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/reconciler-core/internal/configgen"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/metrics"
	"github.com/openclaw/reconciler-core/internal/preprocess"
	"github.com/openclaw/reconciler-core/internal/repository"
)

// Severity classifies a DriftFinding.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// DriftFinding is one disagreement surfaced by a drift check, emitted in
// the fixed order configHash, gatewayConnection, remoteConfigHash, health,
// state (spec §5 "Ordering").
type DriftFinding struct {
	Field    string
	Severity Severity
	Message  string
}

// Result is one instance's drift-check outcome.
type Result struct {
	InstanceID  string
	Health      instance.Health
	Findings    []DriftFinding
	DesiredHash string
	RemoteHash  string
}

const connectTimeout = 10 * time.Second

// Detector compares desired state against the agent's reported state.
type Detector struct {
	repo  repository.Repository
	pool  *gateway.Pool
	chain *preprocess.Chain
	log   log.Logger
}

// New builds a Detector. chain is run over a cloned manifest before config
// generation so that drift checks see the same preprocessed config the
// reconcile engine would hash (spec §4.7: "transform outputs are part of
// the canonical hash and participate in drift detection").
func New(repo repository.Repository, pool *gateway.Pool, chain *preprocess.Chain) *Detector {
	return &Detector{repo: repo, pool: pool, chain: chain, log: log.WithName("drift")}
}

// Check runs a single instance's drift comparison (spec §4.5). It persists
// the instance's health only when it changed, and always refreshes the
// GatewayConnection heartbeat when reachable.
func (d *Detector) Check(ctx context.Context, inst *repository.BotInstance) (*Result, error) {
	res := &Result{InstanceID: inst.ID}

	desiredHash, err := d.desiredHash(inst)
	if err != nil {
		return nil, fmt.Errorf("drift: compute desired hash for %q: %w", inst.ID, err)
	}
	res.DesiredHash = desiredHash

	if inst.ConfigHash != desiredHash {
		res.Findings = append(res.Findings, DriftFinding{
			Field:    "configHash",
			Severity: SeverityWarning,
			Message:  "stored configHash does not match the currently-desired config",
		})
	}

	conn, err := d.repo.GatewayConnections().Get(ctx, inst.ID)
	if err != nil {
		res.Findings = append(res.Findings, DriftFinding{
			Field:    "gatewayConnection",
			Severity: SeverityCritical,
			Message:  "no gateway connection on record: " + err.Error(),
		})
		res.Health = rollup(res.Findings, false)
		d.persistHealth(ctx, inst, res.Health)
		return res, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	client, err := d.pool.Get(dialCtx, inst.ID, gateway.Endpoint{Host: conn.Host, Port: conn.Port, Protocol: "ws"}, conn.AuthToken)
	cancel()
	if err != nil {
		res.Findings = append(res.Findings, DriftFinding{
			Field:    "gatewayConnection",
			Severity: SeverityCritical,
			Message:  "connect failed: " + err.Error(),
		})
		res.Health = rollup(res.Findings, false)
		d.persistHealth(ctx, inst, res.Health)
		return res, nil
	}

	reachable := true

	if remote, err := client.ConfigGet(ctx); err != nil {
		res.Findings = append(res.Findings, DriftFinding{Field: "remoteConfigHash", Severity: SeverityWarning, Message: "config.get failed: " + err.Error()})
	} else {
		res.RemoteHash = remote.Hash
		if remote.Hash != desiredHash {
			res.Findings = append(res.Findings, DriftFinding{Field: "remoteConfigHash", Severity: SeverityCritical, Message: "agent reports a different config hash than desired"})
		}
	}

	if health, err := client.Health(ctx); err != nil {
		res.Findings = append(res.Findings, DriftFinding{Field: "health", Severity: SeverityWarning, Message: "health probe failed: " + err.Error()})
	} else if !health.OK {
		res.Findings = append(res.Findings, DriftFinding{Field: "health", Severity: SeverityCritical, Message: "agent reports unhealthy"})
	}

	if status, err := client.Status(ctx); err != nil {
		res.Findings = append(res.Findings, DriftFinding{Field: "state", Severity: SeverityWarning, Message: "status probe failed: " + err.Error()})
	} else if status.State != "running" {
		res.Findings = append(res.Findings, DriftFinding{Field: "state", Severity: SeverityCritical, Message: "agent state is " + status.State + ", not running"})
	}

	conn.LastHeartbeat = time.Now()
	if err := d.repo.GatewayConnections().Upsert(ctx, conn); err != nil {
		d.log.Warn("failed to refresh gateway connection heartbeat", "instanceId", inst.ID, "error", err)
	}

	res.Health = rollup(res.Findings, reachable)
	d.persistHealth(ctx, inst, res.Health)
	for _, f := range res.Findings {
		metrics.DriftFindingsTotal.WithLabelValues(strings.ToLower(string(f.Severity))).Inc()
	}
	for _, h := range []instance.Health{instance.HealthHealthy, instance.HealthDegraded, instance.HealthUnhealthy, instance.HealthUnknown} {
		if h != res.Health {
			metrics.InstanceHealth.DeleteLabelValues(inst.ID, string(h))
		}
	}
	metrics.InstanceHealth.WithLabelValues(inst.ID, string(res.Health)).Set(1)
	return res, nil
}

// FleetScan runs Check for every instance in RUNNING or DEGRADED; a single
// instance's failure does not affect the others (spec §4.5 fleet scan).
func (d *Detector) FleetScan(ctx context.Context) ([]*Result, error) {
	insts, err := d.repo.Instances().FindManyByStatus(ctx, string(instance.StatusRunning), string(instance.StatusDegraded))
	if err != nil {
		return nil, fmt.Errorf("drift: list instances: %w", err)
	}

	results := make([]*Result, 0, len(insts))
	for _, inst := range insts {
		res, err := d.Check(ctx, inst)
		if err != nil {
			d.log.Warn("drift check failed for instance, continuing fleet scan", "instanceId", inst.ID, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Detector) desiredHash(inst *repository.BotInstance) (string, error) {
	if inst.DesiredManifest == nil {
		return "", fmt.Errorf("instance has no desired manifest")
	}
	man := inst.DesiredManifest.Clone()
	if d.chain != nil {
		d.chain.Run(man)
	}
	cfg, err := configgen.Generate(man, nil)
	if err != nil {
		return "", err
	}
	return configgen.CanonicalHash(cfg)
}

func (d *Detector) persistHealth(ctx context.Context, inst *repository.BotInstance, health instance.Health) {
	if inst.Health == health {
		return
	}
	inst.Health = health
	if err := d.repo.Instances().Update(ctx, inst); err != nil {
		d.log.Warn("failed to persist changed health", "instanceId", inst.ID, "error", err)
	}
}

// rollup classifies overall health from the findings observed, per spec
// §4.5: unreachable -> UNKNOWN, any CRITICAL -> UNHEALTHY, any finding ->
// DEGRADED, none -> HEALTHY.
func rollup(findings []DriftFinding, reachable bool) instance.Health {
	if !reachable {
		return instance.HealthUnknown
	}
	if len(findings) == 0 {
		return instance.HealthHealthy
	}
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return instance.HealthUnhealthy
		}
	}
	return instance.HealthDegraded
}
