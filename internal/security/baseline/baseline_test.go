package baseline

import "testing"

func TestAuditBlocksMissingGatewayAuth(t *testing.T) {
	a := New()
	v, err := a.Audit(nil, map[string]any{})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if v.Allowed {
		t.Fatal("expected audit to block a config with no gatewayAuth block")
	}
}

func TestAuditAllowsSecureConfig(t *testing.T) {
	a := New()
	cfg := map[string]any{
		"gatewayAuth":  map[string]any{"token": "abc123"},
		"logRedaction": "tools",
	}
	v, err := a.Audit(nil, cfg)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected secure config to be allowed, got blockers: %v", v.Blockers)
	}
	if len(v.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", v.Warnings)
	}
}

func TestAuditBlocksElevatedToolsWithEmptyAllowList(t *testing.T) {
	a := New()
	cfg := map[string]any{
		"gatewayAuth":          map[string]any{"token": "abc123"},
		"elevatedToolsEnabled": true,
		"logRedaction":         "tools",
	}
	v, err := a.Audit(nil, cfg)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if v.Allowed {
		t.Fatal("expected audit to block elevated tools with an empty allow-list")
	}
}
