package configgen

import (
	"testing"

	"github.com/openclaw/reconciler-core/internal/manifest"
)

func newTestManifest(env manifest.Environment, overrides manifest.SecurityOverrides, cfg map[string]any) *manifest.Manifest {
	return &manifest.Manifest{
		APIVersion: "v2",
		Kind:       "BotInstanceManifest",
		Metadata:   testMetadata(env, overrides),
		Spec:       manifest.Spec{OpenClawConfig: cfg},
	}
}

func testMetadata(env manifest.Environment, overrides manifest.SecurityOverrides) manifest.Metadata {
	return manifest.Metadata{Name: "bot-1", Environment: env, SecurityOverrides: overrides}
}

func TestGenerateInjectsGatewayTokenWhenAbsent(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentDev, manifest.SecurityOverrides{}, map[string]any{})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	auth, _ := cfg["gatewayAuth"].(map[string]any)
	token, _ := auth["token"].(string)
	if len(token) != 64 {
		t.Fatalf("gatewayAuth.token = %q, want 64 hex chars", token)
	}
}

func TestGenerateHonorsAllowOpenGatewayOverride(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentDev, manifest.SecurityOverrides{AllowOpenGateway: true}, map[string]any{})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	auth, _ := cfg["gatewayAuth"].(map[string]any)
	if _, has := auth["token"]; has {
		t.Fatal("expected no token generated when allowOpenGateway override is set")
	}
}

func TestGenerateForcesSandboxInProdUnlessOverridden(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentProd, manifest.SecurityOverrides{}, map[string]any{
		"sandbox": "off",
	})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	agent, _ := cfg["agent"].(map[string]any)
	if agent["sandbox"] != "all" {
		t.Fatalf("agent.sandbox = %v, want forced to 'all' in prod", agent["sandbox"])
	}
}

func TestGenerateRespectsAllowSandboxOffOverride(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentProd, manifest.SecurityOverrides{AllowSandboxOff: true}, map[string]any{
		"sandbox": "off",
	})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	agent, _ := cfg["agent"].(map[string]any)
	if agent["sandbox"] != "off" {
		t.Fatalf("agent.sandbox = %v, want left 'off' when overridden", agent["sandbox"])
	}
}

func TestGenerateDisablesElevatedToolsWithEmptyAllowList(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentDev, manifest.SecurityOverrides{}, map[string]any{
		"elevatedToolsEnabled": true,
	})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if cfg["elevatedToolsEnabled"] != false {
		t.Fatalf("elevatedToolsEnabled = %v, want disabled when allow-list empty", cfg["elevatedToolsEnabled"])
	}
}

func TestGenerateEnvironmentLogLevelDefaults(t *testing.T) {
	cases := map[manifest.Environment]string{
		manifest.EnvironmentDev:     "debug",
		manifest.EnvironmentStaging: "info",
		manifest.EnvironmentProd:    "warn",
	}
	for env, want := range cases {
		m := newTestManifest(env, manifest.SecurityOverrides{}, map[string]any{})
		cfg, err := Generate(m, nil)
		if err != nil {
			t.Fatalf("Generate(%s): %v", env, err)
		}
		if cfg["logLevel"] != want {
			t.Fatalf("env %s: logLevel = %v, want %v", env, cfg["logLevel"], want)
		}
	}
}

func TestGenerateStripsUnrecognizedKeys(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentDev, manifest.SecurityOverrides{}, map[string]any{
		"listen-address": "0.0.0.0:9000",
	})
	cfg, err := Generate(m, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, has := cfg["listen-address"]; has {
		t.Fatal("expected listen-address to be stripped")
	}
}

func TestGenerateIsDeterministicHash(t *testing.T) {
	m := newTestManifest(manifest.EnvironmentDev, manifest.SecurityOverrides{AllowOpenGateway: true}, map[string]any{
		"model": "gpt-5",
	})
	cfg1, _ := Generate(m, nil)
	cfg2, _ := Generate(m, nil)
	h1, _ := CanonicalHash(cfg1)
	h2, _ := CanonicalHash(cfg2)
	if h1 != h2 {
		t.Fatal("expected identical manifests to produce identical canonical hashes")
	}
}
