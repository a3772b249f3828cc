package preprocess

import "github.com/openclaw/reconciler-core/internal/manifest"

// DelegationPriority is the fixed priority of the built-in delegation
// injector.
const DelegationPriority = 50

// DelegationInjector adds cross-bot delegation capabilities when the
// owning bot has team members; it is a no-op otherwise.
type DelegationInjector struct{}

func (d *DelegationInjector) Name() string { return "delegation-config-injector" }

func (d *DelegationInjector) Priority() int { return DelegationPriority }

func (d *DelegationInjector) Process(m *manifest.Manifest) error {
	if len(m.Metadata.TeamMembers) == 0 {
		return nil
	}

	cfg := m.Spec.OpenClawConfig
	delegates := make([]any, len(m.Metadata.TeamMembers))
	for i, id := range m.Metadata.TeamMembers {
		delegates[i] = id
	}
	cfg["delegation"] = map[string]any{
		"enabled":   true,
		"delegates": delegates,
	}
	return nil
}
