package instance

import (
	"context"

	"github.com/looplab/fsm"
)

// wrapEvent adapts a (context, *fsm.Event) error-returning callback into
// the plain fsm.Callback signature by routing the error back through
// event.Err, the same bridge the looplab/fsm examples use for guards and
// actions that can themselves fail.
func wrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}
