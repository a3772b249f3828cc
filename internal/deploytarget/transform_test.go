package deploytarget

import "testing"

func TestTransformForTargetRenamesListenAddress(t *testing.T) {
	cfg := map[string]any{"listen-address": "127.0.0.1:9000"}
	out, err := TransformForTarget(cfg)
	if err != nil {
		t.Fatalf("TransformForTarget: %v", err)
	}
	if out["listenAddress"] != "127.0.0.1:9000" {
		t.Fatalf("listenAddress = %v, want renamed value", out["listenAddress"])
	}
	if _, has := out["listen-address"]; has {
		t.Fatal("expected alias key removed")
	}
	if _, has := cfg["listenAddress"]; has {
		t.Fatal("TransformForTarget mutated the caller's map")
	}
}

func TestTransformForTargetRelocatesSandbox(t *testing.T) {
	cfg := map[string]any{"sandbox": "all"}
	out, err := TransformForTarget(cfg)
	if err != nil {
		t.Fatalf("TransformForTarget: %v", err)
	}
	agents, _ := out["agents"].(map[string]any)
	defaults, _ := agents["defaults"].(map[string]any)
	if defaults["sandbox"] != "all" {
		t.Fatalf("expected sandbox relocated under agents.defaults.sandbox, got %v", out)
	}
}

func TestTransformForTargetStripsChannelEnabledFlags(t *testing.T) {
	cfg := map[string]any{
		"channels": map[string]any{
			"slack": map[string]any{"enabled": true, "webhook": "x"},
		},
	}
	out, err := TransformForTarget(cfg)
	if err != nil {
		t.Fatalf("TransformForTarget: %v", err)
	}
	channels := out["channels"].(map[string]any)
	slack := channels["slack"].(map[string]any)
	if _, has := slack["enabled"]; has {
		t.Fatal("expected channel enabled flag stripped")
	}
	if slack["webhook"] != "x" {
		t.Fatal("expected other channel fields preserved")
	}
}

func TestForceAllInterfaces(t *testing.T) {
	cfg := map[string]any{}
	ForceAllInterfaces(cfg)
	if cfg["listenAddress"] != "0.0.0.0" {
		t.Fatalf("listenAddress = %v, want 0.0.0.0", cfg["listenAddress"])
	}
}

func TestRefCounterOrphanDetection(t *testing.T) {
	rc := NewRefCounter()
	tag := SharedInfraTag("vpc-us-east-1")

	rc.Acquire(tag)
	rc.Acquire(tag)
	if rc.IsOrphaned(tag) {
		t.Fatal("expected tag with 2 references to not be orphaned")
	}

	rc.Release(tag)
	if rc.IsOrphaned(tag) {
		t.Fatal("expected tag with 1 remaining reference to not be orphaned")
	}

	rc.Release(tag)
	if !rc.IsOrphaned(tag) {
		t.Fatal("expected tag with 0 references to be orphaned")
	}
}
