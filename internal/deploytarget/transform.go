package deploytarget

import "encoding/json"

// listenAddressAliases are the keys an adapter must rename to the agent's
// canonical listen-address field before handing config to a target.
var listenAddressAliases = []string{"listen-address", "listenAddress", "bindAddress"}

const canonicalListenAddressKey = "listenAddress"

// TransformForTarget applies the shared config transformation every
// adapter performs before deployment (spec §4.3): canonical listen-address
// naming, sandbox relocation, stripping non-semantic channel-enabled
// flags, and a defensive deep clone so the caller's config is untouched.
func TransformForTarget(cfg map[string]any) (map[string]any, error) {
	out, err := deepClone(cfg)
	if err != nil {
		return nil, err
	}

	renameListenAddress(out)
	relocateSandbox(out)
	stripChannelEnabledFlags(out)

	return out, nil
}

// ForceAllInterfaces applies the local-container override: loopback
// inside a container is unreachable from the host's bridge network, so
// the listen address is forced to all-interfaces mode.
func ForceAllInterfaces(cfg map[string]any) {
	cfg[canonicalListenAddressKey] = "0.0.0.0"
}

func deepClone(cfg map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func renameListenAddress(cfg map[string]any) {
	for _, alias := range listenAddressAliases {
		if alias == canonicalListenAddressKey {
			continue
		}
		if v, ok := cfg[alias]; ok {
			delete(cfg, alias)
			cfg[canonicalListenAddressKey] = v
		}
	}
}

func relocateSandbox(cfg map[string]any) {
	raw, ok := cfg["sandbox"]
	if !ok {
		return
	}
	delete(cfg, "sandbox")

	defaults, _ := cfg["agents"].(map[string]any)
	if defaults == nil {
		defaults = map[string]any{}
	}
	agentDefaults, _ := defaults["defaults"].(map[string]any)
	if agentDefaults == nil {
		agentDefaults = map[string]any{}
	}
	agentDefaults["sandbox"] = raw
	defaults["defaults"] = agentDefaults
	cfg["agents"] = defaults
}

func stripChannelEnabledFlags(cfg map[string]any) {
	channels, ok := cfg["channels"].(map[string]any)
	if !ok {
		return
	}
	for name, raw := range channels {
		ch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		delete(ch, "enabled")
		channels[name] = ch
	}
}
