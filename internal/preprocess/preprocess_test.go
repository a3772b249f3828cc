package preprocess

import (
	"errors"
	"testing"

	"github.com/openclaw/reconciler-core/internal/manifest"
)

type recordingPreprocessor struct {
	name     string
	priority int
	calls    *[]string
	failErr  error
}

func (r *recordingPreprocessor) Name() string  { return r.name }
func (r *recordingPreprocessor) Priority() int { return r.priority }
func (r *recordingPreprocessor) Process(m *manifest.Manifest) error {
	*r.calls = append(*r.calls, r.name)
	return r.failErr
}

func TestChainRunsInPriorityOrder(t *testing.T) {
	var calls []string
	c := NewChain()
	c.Register(&recordingPreprocessor{name: "b", priority: 50, calls: &calls})
	c.Register(&recordingPreprocessor{name: "a", priority: 10, calls: &calls})
	c.Register(&recordingPreprocessor{name: "c", priority: 90, calls: &calls})

	c.Run(&manifest.Manifest{Spec: manifest.Spec{OpenClawConfig: map[string]any{}}})

	want := []string{"a", "b", "c"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestChainSkipsFailureAndContinues(t *testing.T) {
	var calls []string
	c := NewChain()
	c.Register(&recordingPreprocessor{name: "fails", priority: 10, calls: &calls, failErr: errors.New("boom")})
	c.Register(&recordingPreprocessor{name: "after", priority: 20, calls: &calls})

	c.Run(&manifest.Manifest{Spec: manifest.Spec{OpenClawConfig: map[string]any{}}})

	if len(calls) != 2 {
		t.Fatalf("expected both preprocessors to run, got %v", calls)
	}
}

func TestVaultSkillInjectorIsUnconditional(t *testing.T) {
	m := &manifest.Manifest{Spec: manifest.Spec{OpenClawConfig: map[string]any{}}}
	inj := &VaultSkillInjector{}
	if err := inj.Process(m); err != nil {
		t.Fatalf("Process: %v", err)
	}
	perms, _ := m.Spec.OpenClawConfig["toolPermissions"].(map[string]any)
	if perms["vault.read"] != true || perms["vault.write"] != true {
		t.Fatal("expected vault tool permissions to be granted")
	}
}

func TestDelegationInjectorOnlyWithTeamMembers(t *testing.T) {
	m := &manifest.Manifest{
		Metadata: manifest.Metadata{TeamMembers: nil},
		Spec:     manifest.Spec{OpenClawConfig: map[string]any{}},
	}
	inj := &DelegationInjector{}
	if err := inj.Process(m); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, has := m.Spec.OpenClawConfig["delegation"]; has {
		t.Fatal("expected no delegation block without team members")
	}

	m.Metadata.TeamMembers = []string{"bot-2", "bot-3"}
	if err := inj.Process(m); err != nil {
		t.Fatalf("Process: %v", err)
	}
	d, _ := m.Spec.OpenClawConfig["delegation"].(map[string]any)
	if d["enabled"] != true {
		t.Fatal("expected delegation enabled with team members present")
	}
}

func TestChainOrderingMatchesBuiltinPriorities(t *testing.T) {
	if VaultSkillPriority >= DelegationPriority {
		t.Fatal("vault-skill injector must run before delegation injector")
	}
}
