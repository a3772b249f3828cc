// Package scheduler drives the five periodic reconciler tasks (spec §4.6):
// drift scan, stuck-state recovery, pending pickup, orphan detection, and
// token-rotation warning. Grounded in the teacher's
// internal/cloudhub/server/manager.Manager, which fans a fixed list of
// heterogeneous long-running Servers out via errgroup and waits on all of
// them; here each Task runs its own ticker loop under the same errgroup
// instead of a one-shot Start().
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/drift"
	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/lifecycle"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/metrics"
	"github.com/openclaw/reconciler-core/internal/repository"
)

// Reconciler is the subset of internal/reconcile.Engine the scheduler
// drives. Declared here, not imported from internal/reconcile, so that
// reconcile can depend on scheduler's Options without a cycle; reconcile's
// Engine satisfies this interface as-is.
type Reconciler interface {
	Reconcile(ctx context.Context, instanceID string) error
}

// InfraChecker is the subset of *lifecycle.Manager the orphan-detection
// task needs: a way to ask the deployment target whether an instance's
// compute is still there. *lifecycle.Manager satisfies this as-is.
type InfraChecker interface {
	GetStatus(ctx context.Context, inst *repository.BotInstance) (*lifecycle.StatusResult, error)
}

const (
	driftScanInterval      = 5 * time.Minute
	stuckStateInterval     = 1 * time.Minute
	pendingPickupInterval  = 30 * time.Second
	orphanDetectInterval   = 5 * time.Minute
	tokenRotationInterval  = 24 * time.Hour
	stuckStateThreshold    = 15 * time.Minute
	tokenRotationThreshold = 90 * 24 * time.Hour
	orphanErrorThreshold   = 10
)

// Options tunes the scheduler's behavior.
type Options struct {
	// AutoReconcile enables sequential reconcile-on-drift after the
	// periodic fleet-wide drift scan (spec §4.6 drift scan task).
	AutoReconcile bool
}

// Scheduler runs the five periodic tasks described by spec §4.6, each
// serialized against its own prior tick via a held mutex (the "next tick
// waits" rule, not a skip-if-busy rule).
type Scheduler struct {
	repo      repository.Repository
	detector  *drift.Detector
	reconcile Reconciler
	infra     InfraChecker
	log       log.Logger

	autoReconcile atomic.Bool

	driftMu  sync.Mutex
	stuckMu  sync.Mutex
	pendMu   sync.Mutex
	orphanMu sync.Mutex
	tokenMu  sync.Mutex
}

// New builds a Scheduler. infra may be nil, in which case orphan detection
// only logs candidates without transitioning them (no lifecycle manager to
// ask for infra state).
func New(repo repository.Repository, detector *drift.Detector, reconciler Reconciler, infra InfraChecker, opts Options) *Scheduler {
	s := &Scheduler{
		repo:      repo,
		detector:  detector,
		reconcile: reconciler,
		infra:     infra,
		log:       log.WithName("scheduler"),
	}
	s.autoReconcile.Store(opts.AutoReconcile)
	return s
}

// SetAutoReconcile updates the auto-reconcile-on-drift flag in place,
// taking effect on the next drift-scan tick. Used by the config-file
// live-reload path (internal/app's WithOnConfigChange) so the flag can be
// tuned without a restart.
func (s *Scheduler) SetAutoReconcile(enabled bool) {
	s.autoReconcile.Store(enabled)
}

// Run blocks, driving all five tasks in parallel until ctx is cancelled or
// any task returns a non-nil error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(ctx, "drift-scan", driftScanInterval, &s.driftMu, s.runDriftScan) })
	g.Go(func() error {
		return s.loop(ctx, "stuck-state-recovery", stuckStateInterval, &s.stuckMu, s.runStuckStateRecovery)
	})
	g.Go(func() error {
		return s.loop(ctx, "pending-pickup", pendingPickupInterval, &s.pendMu, s.runPendingPickup)
	})
	g.Go(func() error {
		return s.loop(ctx, "orphan-detection", orphanDetectInterval, &s.orphanMu, s.runOrphanDetection)
	})
	g.Go(func() error {
		return s.loop(ctx, "token-rotation-warning", tokenRotationInterval, &s.tokenMu, s.runTokenRotationWarning)
	})

	return g.Wait()
}

// loop runs fn every interval, holding mu for the task's duration so an
// overrunning tick delays, rather than overlaps, the next one.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, mu *sync.Mutex, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mu.Lock()
			tickStart := time.Now()
			err := fn(ctx)
			metrics.SchedulerTaskDuration.WithLabelValues(name).Observe(time.Since(tickStart).Seconds())
			if err != nil {
				metrics.SchedulerTaskFailuresTotal.WithLabelValues(name).Inc()
				s.log.Error(err, "scheduler task failed", "task", name)
			}
			mu.Unlock()
		}
	}
}

// runDriftScan runs a fleet-wide drift scan and, when AutoReconcile is set,
// reconciles every instance with at least one finding, sequentially.
func (s *Scheduler) runDriftScan(ctx context.Context) error {
	results, err := s.detector.FleetScan(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: drift scan: %w", err)
	}
	if !s.autoReconcile.Load() {
		return nil
	}
	for _, res := range results {
		if len(res.Findings) == 0 {
			continue
		}
		if err := s.reconcile.Reconcile(ctx, res.InstanceID); err != nil {
			s.log.Error(err, "auto-reconcile after drift finding failed", "instanceId", res.InstanceID)
		}
	}
	return nil
}

// runStuckStateRecovery finds instances stuck in CREATING/RECONCILING past
// the stuck-state threshold and transitions them to ERROR.
func (s *Scheduler) runStuckStateRecovery(ctx context.Context) error {
	insts, err := s.repo.Instances().FindManyByStatus(ctx, string(instance.StatusCreating), string(instance.StatusReconciling))
	if err != nil {
		return fmt.Errorf("scheduler: list stuck candidates: %w", err)
	}
	now := time.Now()
	for _, inst := range insts {
		if now.Sub(inst.UpdatedAt) < stuckStateThreshold {
			continue
		}
		inst.LastError = fmt.Sprintf("stuck in %s for over %s", inst.Status, stuckStateThreshold)
		inst.Status = instance.StatusError
		inst.ErrorCount++
		inst.RunningSince = nil
		inst.UpdatedAt = now
		if err := s.repo.Instances().Update(ctx, inst); err != nil {
			s.log.Error(err, "failed to persist stuck-state recovery", "instanceId", inst.ID)
		}
	}
	return nil
}

// runPendingPickup reconciles every PENDING instance, as a safety net for
// fire-and-forget API triggers.
func (s *Scheduler) runPendingPickup(ctx context.Context) error {
	insts, err := s.repo.Instances().FindManyByStatus(ctx, string(instance.StatusPending))
	if err != nil {
		return fmt.Errorf("scheduler: list pending: %w", err)
	}
	for _, inst := range insts {
		if err := s.reconcile.Reconcile(ctx, inst.ID); err != nil {
			s.log.Error(err, "pending pickup reconcile failed", "instanceId", inst.ID)
		}
	}
	return nil
}

// runOrphanDetection checks infra state for RUNNING instances with a high
// error count, transitioning them to STOPPED or ERROR if infra has
// disappeared or is itself erroring.
func (s *Scheduler) runOrphanDetection(ctx context.Context) error {
	insts, err := s.repo.Instances().FindManyByStatus(ctx, string(instance.StatusRunning))
	if err != nil {
		return fmt.Errorf("scheduler: list running: %w", err)
	}
	if s.infra == nil {
		for _, inst := range insts {
			if inst.ErrorCount >= orphanErrorThreshold {
				s.log.Info("instance exceeds error threshold but no infra checker is configured, skipping", "instanceId", inst.ID, "errorCount", inst.ErrorCount)
			}
		}
		return nil
	}

	now := time.Now()
	for _, inst := range insts {
		if inst.ErrorCount < orphanErrorThreshold {
			continue
		}

		status, err := s.infra.GetStatus(ctx, inst)
		if err != nil {
			s.log.Error(err, "orphan detection: infra status check failed", "instanceId", inst.ID)
			continue
		}

		switch status.InfraState {
		case deploytarget.InfraNotInstalled, deploytarget.InfraStopped:
			inst.Status = instance.StatusStopped
			inst.RunningSince = nil
		case deploytarget.InfraError, deploytarget.InfraUnknown:
			inst.Status = instance.StatusError
			inst.LastError = fmt.Sprintf("orphan detection: infra state %q after %d errors", status.InfraState, inst.ErrorCount)
		default:
			continue
		}

		inst.UpdatedAt = now
		s.log.Info("orphan detection transitioned instance", "instanceId", inst.ID, "infraState", status.InfraState, "newStatus", inst.Status)
		if err := s.repo.Instances().Update(ctx, inst); err != nil {
			s.log.Error(err, "failed to persist orphan-detection transition", "instanceId", inst.ID)
		}
	}
	return nil
}

// runTokenRotationWarning logs a warning for any RUNNING/DEGRADED instance
// whose last reconcile is older than the rotation threshold.
func (s *Scheduler) runTokenRotationWarning(ctx context.Context) error {
	insts, err := s.repo.Instances().FindManyByStatus(ctx, string(instance.StatusRunning), string(instance.StatusDegraded))
	if err != nil {
		return fmt.Errorf("scheduler: list for token rotation check: %w", err)
	}
	now := time.Now()
	for _, inst := range insts {
		if inst.LastReconcileAt == nil || now.Sub(*inst.LastReconcileAt) < tokenRotationThreshold {
			continue
		}
		s.log.Info("instance has not reconciled recently; credentials may be due for rotation", "instanceId", inst.ID, "lastReconcileAt", inst.LastReconcileAt)
	}
	return nil
}
