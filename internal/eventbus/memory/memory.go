// Package memory provides an in-process fan-out implementation of
// eventbus.Bus: every emitted event is published on a buffered channel per
// subscriber, the same "Send then let the transport carry it" shape as the
// teacher's hub.Send, minus an actual wire transport.
package memory

import (
	"sync"

	"github.com/openclaw/reconciler-core/internal/eventbus"
	"github.com/openclaw/reconciler-core/internal/log"
)

// Bus is an in-memory, multi-subscriber eventbus.Bus.
type Bus struct {
	mu   sync.Mutex
	seq  map[string]int
	subs []chan eventbus.ProvisioningEvent
	log  log.Logger
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{seq: map[string]int{}, log: log.WithName("eventbus")}
}

var _ eventbus.Bus = (*Bus)(nil)

// Subscribe returns a channel that receives every event published from
// this point on. The channel is closed never; callers should read until
// they no longer care.
func (b *Bus) Subscribe(buffer int) <-chan eventbus.ProvisioningEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan eventbus.ProvisioningEvent, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) publish(e eventbus.ProvisioningEvent) {
	b.mu.Lock()
	b.seq[e.InstanceID]++
	e.Sequence = b.seq[e.InstanceID]
	subs := make([]chan eventbus.ProvisioningEvent, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("dropping provisioning event, subscriber channel full", "instanceId", e.InstanceID)
		}
	}
}

func (b *Bus) StartProvisioning(instanceID, deploymentType string) {
	b.publish(eventbus.ProvisioningEvent{
		InstanceID:     instanceID,
		DeploymentType: deploymentType,
		State:          eventbus.StepPending,
	})
}

func (b *Bus) UpdateStep(instanceID, stepID string, state eventbus.StepState, message string) {
	b.publish(eventbus.ProvisioningEvent{
		InstanceID: instanceID,
		StepID:     stepID,
		State:      state,
		Message:    message,
	})
}

func (b *Bus) EmitLog(instanceID, stepID string, stream eventbus.Stream, line string) {
	b.publish(eventbus.ProvisioningEvent{
		InstanceID: instanceID,
		StepID:     stepID,
		Stream:     stream,
		Line:       line,
	})
}

func (b *Bus) CompleteProvisioning(instanceID string) {
	b.publish(eventbus.ProvisioningEvent{
		InstanceID: instanceID,
		State:      eventbus.StepCompleted,
	})
}

func (b *Bus) FailProvisioning(instanceID string, reason string) {
	b.publish(eventbus.ProvisioningEvent{
		InstanceID: instanceID,
		State:      eventbus.StepError,
		Message:    reason,
	})
}
