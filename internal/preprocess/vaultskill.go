package preprocess

import "github.com/openclaw/reconciler-core/internal/manifest"

// VaultSkillPriority is the fixed priority of the built-in vault-skill
// injector (lower runs first).
const VaultSkillPriority = 40

// VaultSkillInjector unconditionally adds the tool permissions and skill
// search path every bot needs to store secrets in the shared vault.
type VaultSkillInjector struct {
	// SearchPath is the filesystem path the agent scans for vault-skill
	// definitions; defaults to a well-known path when empty.
	SearchPath string
}

func (v *VaultSkillInjector) Name() string { return "vault-skill-injector" }

func (v *VaultSkillInjector) Priority() int { return VaultSkillPriority }

func (v *VaultSkillInjector) Process(m *manifest.Manifest) error {
	cfg := m.Spec.OpenClawConfig

	searchPath := v.SearchPath
	if searchPath == "" {
		searchPath = "/etc/openclaw/skills/vault"
	}

	skillPaths, _ := cfg["skillSearchPaths"].([]any)
	cfg["skillSearchPaths"] = appendUnique(skillPaths, searchPath)

	toolPerms, _ := cfg["toolPermissions"].(map[string]any)
	if toolPerms == nil {
		toolPerms = map[string]any{}
	}
	toolPerms["vault.read"] = true
	toolPerms["vault.write"] = true
	cfg["toolPermissions"] = toolPerms

	return nil
}

func appendUnique(list []any, value string) []any {
	for _, v := range list {
		if s, ok := v.(string); ok && s == value {
			return list
		}
	}
	return append(list, value)
}
