package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/reconciler-core/internal/a2akey"
	"github.com/openclaw/reconciler-core/internal/configgen"
	"github.com/openclaw/reconciler-core/internal/drift"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/lifecycle"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/metrics"
	"github.com/openclaw/reconciler-core/internal/preprocess"
	"github.com/openclaw/reconciler-core/internal/repository"
	"github.com/openclaw/reconciler-core/internal/security"
)

// Result is reconcile(instanceId)'s outcome, detailed enough for an
// operator to reconstruct what happened without reading logs (spec §4.1).
type Result struct {
	Success   bool
	Message   string
	Changes   []string
	ElapsedMS int64
}

// Engine is the reconciler's single composition root.
type Engine struct {
	repo      repository.Repository
	chain     *preprocess.Chain
	auditor   security.Auditor
	lifecycle *lifecycle.Manager
	detector  *drift.Detector
	keys      *a2akey.Manager
	gateway   configgen.GatewaySettings
	log       log.Logger
}

// New builds an Engine wiring every collaborator the pipeline needs.
func New(repo repository.Repository, chain *preprocess.Chain, auditor security.Auditor, lc *lifecycle.Manager, detector *drift.Detector, keys *a2akey.Manager) *Engine {
	return &Engine{
		repo:      repo,
		chain:     chain,
		auditor:   auditor,
		lifecycle: lc,
		detector:  detector,
		keys:      keys,
		log:       log.WithName("reconcile"),
	}
}

// SetGatewaySettings configures the optional AI-gateway provider block the
// config generator injects into every generated config (spec §4.4 step 4).
// Zero-value settings (the default after New) leave gateway injection
// disabled.
func (e *Engine) SetGatewaySettings(gw configgen.GatewaySettings) {
	e.gateway = gw
}

// Reconcile drives a single instance through the full pipeline described by
// spec §4.1. It is idempotent and race-free across distinct instances;
// within one instance, the caller (scheduler or API handler) must serialize
// calls.
func (e *Engine) Reconcile(ctx context.Context, instanceID string) error {
	start := time.Now()
	_, err := e.reconcile(ctx, instanceID, start)
	return err
}

// ReconcileDetailed is Reconcile's full-fidelity sibling, returning the
// Result an operator-facing caller wants instead of a bare error.
func (e *Engine) ReconcileDetailed(ctx context.Context, instanceID string) (*Result, error) {
	return e.reconcile(ctx, instanceID, time.Now())
}

func (e *Engine) reconcile(ctx context.Context, instanceID string, start time.Time) (*Result, error) {
	var changes []string

	inst, err := e.repo.Instances().FindByID(ctx, instanceID)
	if err != nil {
		return nil, e.fail(ctx, nil, instanceID, &ReconcileError{Kind: KindInvalidManifest, Err: err}, start)
	}
	if inst.DesiredManifest == nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindInvalidManifest, Message: "instance has no desired manifest"}, start)
	}
	if err := inst.DesiredManifest.Validate(); err != nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindInvalidManifest, Err: err}, start)
	}

	// Classification (spec §4.1 step 6) must observe status as it stood
	// before this reconcile's own RECONCILING transition.
	isNew := inst.Status == instance.StatusCreating || (inst.LastReconcileAt == nil && inst.ConfigHash == "")

	e.transition(inst, instance.EventReconcileStart)

	man := inst.DesiredManifest.Clone()
	e.chain.Run(man)
	changes = append(changes, "preprocessor chain applied")

	cfg, err := configgen.Generate(man, &e.gateway)
	if err != nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindInvalidManifest, Err: err}, start)
	}
	// A gateway token generated for a manifest that set none is written back
	// into the stored desired manifest, so later reconciles and drift checks
	// regenerate the same config and hash.
	stored, _ := inst.DesiredManifest.Spec.OpenClawConfig["gatewayAuth"].(map[string]any)
	if stored["token"] == nil && stored["password"] == nil {
		generated, _ := cfg["gatewayAuth"].(map[string]any)
		if tok, ok := generated["token"].(string); ok {
			if stored == nil {
				stored = map[string]any{}
				inst.DesiredManifest.Spec.OpenClawConfig["gatewayAuth"] = stored
			}
			stored["token"] = tok
		}
	}
	hash, err := configgen.CanonicalHash(cfg)
	if err != nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindInvalidManifest, Err: err}, start)
	}
	changes = append(changes, "desired config generated, hash "+hash)

	manifestMap, err := toMap(man)
	if err != nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindInvalidManifest, Err: err}, start)
	}
	verdict, err := e.auditor.Audit(manifestMap, cfg)
	if err != nil {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindSecurityBlocked, Err: err}, start)
	}
	if !verdict.Allowed {
		return nil, e.fail(ctx, inst, instanceID, &ReconcileError{Kind: KindSecurityBlocked, Message: fmt.Sprintf("%v", verdict.Blockers)}, start)
	}
	changes = append(changes, "security audit passed")

	if isNew {
		if _, err := e.lifecycle.Provision(ctx, inst, man, cfg, hash); err != nil {
			return nil, e.fail(ctx, inst, instanceID, classify("ProvisionFailed", err), start)
		}
		changes = append(changes, "provisioned")
	} else {
		updateResult, err := e.lifecycle.Update(ctx, inst, cfg, hash)
		if err != nil {
			var rejected *lifecycle.ConfigApplyRejectedError
			if errors.As(err, &rejected) {
				return nil, e.fail(ctx, inst, instanceID, classify("update", err), start)
			}
			// Anything other than a validation rejection — the agent is
			// unreachable or in an inconsistent state — falls back to
			// provision (spec §4.1 step 7, testable property 5).
			e.log.Info("update failed, falling back to provision", "instanceId", instanceID, "error", err)
			if _, provErr := e.lifecycle.Provision(ctx, inst, man, cfg, hash); provErr != nil {
				return nil, e.fail(ctx, inst, instanceID, classify("ProvisionFailed", provErr), start)
			}
			changes = append(changes, "update failed, provision fallback succeeded")
		} else {
			changes = append(changes, "update: "+updateResult.Method)
		}
	}

	if e.keys != nil && len(man.Metadata.TeamMembers) > 0 {
		if _, err := e.keys.Ensure(ctx, instanceID, "delegation"); err != nil {
			e.log.Warn("post-provision delegation key ensure failed, continuing", "instanceId", instanceID, "error", err)
		} else {
			changes = append(changes, "delegation A2A key ensured")
		}
	}

	status, err := e.lifecycle.GetStatus(ctx, inst)
	health := instance.HealthUnknown
	if err == nil && status != nil {
		switch {
		case status.GatewayConnected && status.GatewayHealth != nil && status.GatewayHealth.OK:
			health = instance.HealthHealthy
		case status.GatewayConnected:
			health = instance.HealthDegraded
		default:
			health = instance.HealthUnknown
		}
	}

	// Fire the FSM transition first, while status is still RECONCILING;
	// it owns status/runningSince/lastError/errorCount. Fields outside the
	// FSM's narrow Record (configHash, health, timestamps) are then
	// written directly.
	e.transition(inst, instance.EventReconcileSucceed)

	now := time.Now()
	inst.ConfigHash = hash
	inst.Health = health
	inst.LastReconcileAt = &now
	inst.UpdatedAt = now

	if err := e.repo.Instances().Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("reconcile: persist terminal state for %q: %w", instanceID, err)
	}

	elapsed := time.Since(start)
	metrics.ObserveReconcile(true, elapsed.Seconds())

	return &Result{
		Success:   true,
		Message:   "reconcile succeeded",
		Changes:   changes,
		ElapsedMS: elapsed.Milliseconds(),
	}, nil
}

// fail records the standard failure path (spec §4.1 step 11): status ->
// ERROR, runningSince cleared, lastError set, errorCount incremented.
func (e *Engine) fail(ctx context.Context, inst *repository.BotInstance, instanceID string, rerr *ReconcileError, start time.Time) error {
	if inst != nil {
		now := time.Now()
		inst.Status = instance.StatusError
		inst.RunningSince = nil
		inst.LastError = rerr.Error()
		inst.ErrorCount++
		inst.UpdatedAt = now
		if err := e.repo.Instances().Update(ctx, inst); err != nil {
			e.log.Error(err, "failed to persist failure state", "instanceId", instanceID)
		}
	}
	e.log.Error(rerr, "reconcile failed", "instanceId", instanceID, "kind", rerr.Kind)
	metrics.ObserveReconcile(false, time.Since(start).Seconds())
	return rerr
}

// transition fires an FSM event against a fresh FiniteStateMachine seeded
// from inst's current status, then writes the resulting bookkeeping fields
// back. The FSM itself is not persisted between calls (spec §6: "no
// in-memory caches of BotInstance state are permitted in the reconciler");
// only the BotInstance row is the source of truth.
func (e *Engine) transition(inst *repository.BotInstance, event string) {
	rec := inst.ToFSMRecord()
	f := instance.NewFiniteStateMachine(inst.Status, rec)
	if err := f.Event(context.Background(), event); err != nil {
		e.log.Warn("fsm transition rejected", "instanceId", inst.ID, "event", event, "error", err)
		return
	}
	inst.Status = f.Status()
	inst.ApplyFSMRecord(rec)
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("reconcile: marshal for audit: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("reconcile: unmarshal for audit: %w", err)
	}
	return m, nil
}
