package manifest

import "testing"

func TestNormalizeLegacyFlatManifest(t *testing.T) {
	raw := map[string]any{
		"model": "gpt-5",
		"tools": []any{"search", "shell"},
	}

	m, err := Normalize(raw, "bot-1")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Kind != kindBotInstance {
		t.Fatalf("kind = %q, want %q", m.Kind, kindBotInstance)
	}
	if m.Metadata.Name != "bot-1" {
		t.Fatalf("metadata.name = %q, want bot-1", m.Metadata.Name)
	}
	if m.Metadata.Environment != EnvironmentDev {
		t.Fatalf("environment = %q, want dev default", m.Metadata.Environment)
	}
	if got := m.Spec.OpenClawConfig["model"]; got != "gpt-5" {
		t.Fatalf("openclawConfig.model = %v, want gpt-5", got)
	}
}

func TestNormalizeEnvelopedManifestFillsDefaults(t *testing.T) {
	raw := map[string]any{
		"metadata": map[string]any{
			"name": "explicit-name",
		},
		"spec": map[string]any{
			"openclawConfig": map[string]any{"model": "gpt-5"},
		},
	}

	m, err := Normalize(raw, "fallback-name")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Metadata.Name != "explicit-name" {
		t.Fatalf("metadata.name = %q, want explicit-name to take precedence", m.Metadata.Name)
	}
	if m.APIVersion != currentAPIVersion {
		t.Fatalf("apiVersion = %q, want default %q", m.APIVersion, currentAPIVersion)
	}
}

func TestValidateRejectsMissingOpenClawConfig(t *testing.T) {
	m := &Manifest{
		APIVersion: currentAPIVersion,
		Kind:       kindBotInstance,
		Metadata:   Metadata{Name: "x", Environment: EnvironmentProd},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error for missing openclawConfig")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := &Manifest{
		APIVersion: currentAPIVersion,
		Metadata: Metadata{
			Name:   "x",
			Labels: map[string]string{"a": "1"},
		},
		Spec: Spec{OpenClawConfig: map[string]any{"nested": map[string]any{"k": "v"}}},
	}

	cp := m.Clone()
	cp.Metadata.Labels["a"] = "2"
	cp.Spec.OpenClawConfig["nested"].(map[string]any)["k"] = "changed"

	if m.Metadata.Labels["a"] != "1" {
		t.Fatal("clone mutated original labels")
	}
	if m.Spec.OpenClawConfig["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("clone mutated original nested config")
	}
}
