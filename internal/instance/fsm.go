package instance

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Events driving the BotInstance status state machine (see spec §4.1).
const (
	EventReconcileStart   = "event_reconcile_start"
	EventReconcileSucceed = "event_reconcile_succeed"
	EventReconcileFail    = "event_reconcile_fail"
	EventStop             = "event_stop"
	EventDelete           = "event_delete"
)

// FiniteStateMachine wraps looplab/fsm.FSM with the guards and actions that
// keep a BotInstance's bookkeeping fields consistent with its status.
type FiniteStateMachine struct {
	*fsm.FSM
}

// reconcilableStates are every status from which a reconcile may be
// (re-)started.
var reconcilableStates = []string{
	string(StatusCreating),
	string(StatusPending),
	string(StatusRunning),
	string(StatusDegraded),
	string(StatusError),
	string(StatusStopped),
}

// deletableStates are every non-terminal status; DELETING is intentionally
// excluded so that once an instance is deleting it can never re-enter
// another state (invariant 5).
var deletableStates = []string{
	string(StatusCreating),
	string(StatusPending),
	string(StatusReconciling),
	string(StatusRunning),
	string(StatusDegraded),
	string(StatusError),
	string(StatusStopped),
}

// NewFiniteStateMachine builds the status state machine starting at
// initialStatus, wiring callbacks against the supplied BotInstance record.
func NewFiniteStateMachine(initialStatus Status, rec *Record) *FiniteStateMachine {
	f := &FiniteStateMachine{}

	events := fsm.Events{
		{Name: EventReconcileStart, Src: reconcilableStates, Dst: string(StatusReconciling)},
		{Name: EventReconcileSucceed, Src: []string{string(StatusReconciling)}, Dst: string(StatusRunning)},
		{Name: EventReconcileFail, Src: []string{string(StatusReconciling)}, Dst: string(StatusError)},
		{Name: EventStop, Src: []string{string(StatusRunning)}, Dst: string(StatusStopped)},
		{Name: EventDelete, Src: deletableStates, Dst: string(StatusDeleting)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StatusReconciling): wrapEvent(f.actionEnterReconciling(rec)),
		"enter_" + string(StatusRunning):     wrapEvent(f.actionEnterRunning(rec)),
		"enter_" + string(StatusError):       wrapEvent(f.actionEnterError(rec)),
		"enter_" + string(StatusDeleting):    wrapEvent(f.actionEnterDeleting(rec)),
	}

	f.FSM = fsm.NewFSM(string(initialStatus), events, callbacks)
	return f
}

// actionEnterReconciling clears runningSince on entering RECONCILING, per
// spec step 2 of the reconcile pipeline.
func (f *FiniteStateMachine) actionEnterReconciling(rec *Record) func(context.Context, *fsm.Event) error {
	return func(ctx context.Context, e *fsm.Event) error {
		rec.RunningSince = nil
		return nil
	}
}

// actionEnterRunning persists terminal success state: runningSince, cleared
// lastError, reset errorCount.
func (f *FiniteStateMachine) actionEnterRunning(rec *Record) func(context.Context, *fsm.Event) error {
	return func(ctx context.Context, e *fsm.Event) error {
		now := nowFunc()
		rec.RunningSince = &now
		rec.LastError = ""
		rec.ErrorCount = 0
		return nil
	}
}

// actionEnterError records the failure message and increments errorCount.
func (f *FiniteStateMachine) actionEnterError(rec *Record) func(context.Context, *fsm.Event) error {
	return func(ctx context.Context, e *fsm.Event) error {
		rec.RunningSince = nil
		if len(e.Args) > 0 {
			if err, ok := e.Args[0].(error); ok {
				rec.LastError = err.Error()
			} else if s, ok := e.Args[0].(string); ok {
				rec.LastError = s
			} else {
				rec.LastError = fmt.Sprintf("%v", e.Args[0])
			}
		}
		rec.ErrorCount++
		return nil
	}
}

// actionEnterDeleting clears runningSince; destruction is monotonic from
// here on (invariant 5), enforced by deletableStates excluding DELETING.
func (f *FiniteStateMachine) actionEnterDeleting(rec *Record) func(context.Context, *fsm.Event) error {
	return func(ctx context.Context, e *fsm.Event) error {
		rec.RunningSince = nil
		return nil
	}
}

// Status returns the current state as an instance.Status.
func (f *FiniteStateMachine) Status() Status {
	return Status(f.Current())
}
