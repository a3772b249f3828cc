package memory

import (
	"testing"

	"github.com/openclaw/reconciler-core/internal/eventbus"
)

func TestSequenceIsMonotonicPerInstance(t *testing.T) {
	b := New()
	ch := b.Subscribe(10)

	b.StartProvisioning("bot-1", "local_container")
	b.UpdateStep("bot-1", "install", eventbus.StepInProgress, "")
	b.UpdateStep("bot-1", "install", eventbus.StepCompleted, "")
	b.StartProvisioning("bot-2", "aws_vm")

	var seqBot1 []int
	var seqBot2 []int
	for i := 0; i < 4; i++ {
		e := <-ch
		switch e.InstanceID {
		case "bot-1":
			seqBot1 = append(seqBot1, e.Sequence)
		case "bot-2":
			seqBot2 = append(seqBot2, e.Sequence)
		}
	}

	for i, s := range seqBot1 {
		if s != i+1 {
			t.Fatalf("bot-1 sequence = %v, want strictly increasing from 1", seqBot1)
		}
	}
	if len(seqBot2) != 1 || seqBot2[0] != 1 {
		t.Fatalf("bot-2 sequence = %v, want independent counter starting at 1", seqBot2)
	}
}
