// Package reconcile implements the reconciler engine's single core
// operation, reconcile(instanceId) (spec §4.1): the composition root that
// wires the preprocessor chain, config generator, security audit,
// lifecycle manager, and drift detector into one ordered pipeline per
// instance. Grounded in the teacher's internal/cloudhub/core/service
// composition-root style: a struct holding an interface per collaborator,
// wired once at startup, with one exported entry point.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/openclaw/reconciler-core/internal/lifecycle"
)

// Kind classifies a reconcile failure per spec §7's error taxonomy.
type Kind string

const (
	KindInvalidManifest           Kind = "InvalidManifest"
	KindSecurityBlocked           Kind = "SecurityBlocked"
	KindProvisionFailed           Kind = "ProvisionFailed"
	KindGatewayUnreachable        Kind = "GatewayUnreachable"
	KindConfigApplyRejected       Kind = "ConfigApplyRejected"
	KindResourceUpdateUnsupported Kind = "ResourceUpdateUnsupported"
	KindStuckState                Kind = "StuckState"
)

// ReconcileError carries the taxonomy Kind alongside the underlying error,
// satisfying both error and errors.Unwrap so callers can still
// errors.Is/errors.As through to lifecycle's sentinels.
type ReconcileError struct {
	Kind    Kind
	Err     error
	Message string
}

func (e *ReconcileError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reconcile: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("reconcile: %s: %v", e.Kind, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// classify maps an error surfaced by a pipeline step to its Kind, via
// errors.Is against lifecycle's sentinels where the step is lifecycle's.
func classify(step string, err error) *ReconcileError {
	var rejected *lifecycle.ConfigApplyRejectedError
	switch {
	case errors.As(err, &rejected):
		return &ReconcileError{Kind: KindConfigApplyRejected, Err: err, Message: fmt.Sprintf("%v", rejected.ValidationErrors)}
	case errors.Is(err, lifecycle.ErrGatewayUnreachable):
		return &ReconcileError{Kind: KindGatewayUnreachable, Err: err}
	case errors.Is(err, lifecycle.ErrProvisionFailed):
		return &ReconcileError{Kind: KindProvisionFailed, Err: err}
	default:
		return &ReconcileError{Kind: Kind(step), Err: err}
	}
}
