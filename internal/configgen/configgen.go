// Package configgen transforms a manifest into the full agent config and
// computes the canonical hash used throughout the reconciler for drift
// detection and optimistic concurrency with the agent.
package configgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/openclaw/reconciler-core/internal/manifest"
)

const defaultGatewayPort = 18789

// GatewaySettings carries the optional AI-gateway provider block injected
// into generated configs when enabled.
type GatewaySettings struct {
	Enabled  bool
	Provider string
	BaseURL  string
	APIKey   string
}

// Generate runs the full (manifest, optional gateway settings) -> config
// transform described by the config generator: subtree extraction, sandbox
// hoisting, environment-aware defaults, AI-gateway injection, stripping of
// non-agent-recognized keys, and secure defaults.
func Generate(m *manifest.Manifest, gw *GatewaySettings) (map[string]any, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("configgen: %w", err)
	}

	cfg := cloneConfig(m.Spec.OpenClawConfig)

	hoistSandbox(cfg)
	applyEnvironmentDefaults(cfg, m.Metadata.Environment)
	injectGatewayBlock(cfg, gw)
	stripUnrecognizedKeys(cfg)
	applySecureDefaults(cfg, m.Metadata.Environment, m.Metadata.SecurityOverrides)

	return cfg, nil
}

func cloneConfig(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// hoistSandbox moves a top-level "sandbox" block to config.agent.sandbox,
// the nested location the agent actually reads.
func hoistSandbox(cfg map[string]any) {
	raw, ok := cfg["sandbox"]
	if !ok {
		return
	}
	delete(cfg, "sandbox")

	agent, _ := cfg["agent"].(map[string]any)
	if agent == nil {
		agent = map[string]any{}
	}
	agent["sandbox"] = raw
	cfg["agent"] = agent
}

func applyEnvironmentDefaults(cfg map[string]any, env manifest.Environment) {
	if _, set := cfg["logLevel"]; !set {
		cfg["logLevel"] = defaultLogLevel(env)
	}
	if _, set := cfg["gatewayPort"]; !set {
		cfg["gatewayPort"] = defaultGatewayPort
	}
}

func defaultLogLevel(env manifest.Environment) string {
	switch env {
	case manifest.EnvironmentProd:
		return "warn"
	case manifest.EnvironmentStaging:
		return "info"
	default:
		return "debug"
	}
}

func injectGatewayBlock(cfg map[string]any, gw *GatewaySettings) {
	if gw == nil || !gw.Enabled {
		return
	}
	cfg["aiGateway"] = map[string]any{
		"provider": gw.Provider,
		"baseUrl":  gw.BaseURL,
		"apiKey":   gw.APIKey,
	}
}

// unrecognizedKeys are top-level aliases or deprecated flags the agent does
// not itself understand; they are dropped after any value they carried has
// already informed the transform above.
var unrecognizedKeys = []string{
	"listen-address",
	"listenAddress",
	"deprecatedSkills",
	"channelEnabled",
}

func stripUnrecognizedKeys(cfg map[string]any) {
	for _, k := range unrecognizedKeys {
		delete(cfg, k)
	}
}

func applySecureDefaults(cfg map[string]any, env manifest.Environment, overrides manifest.SecurityOverrides) {
	gateway, _ := cfg["gatewayAuth"].(map[string]any)
	if gateway == nil {
		gateway = map[string]any{}
	}
	_, hasToken := gateway["token"]
	_, hasPassword := gateway["password"]
	if !hasToken && !hasPassword && !overrides.AllowOpenGateway {
		token, err := randomHexToken(32)
		if err == nil {
			gateway["token"] = token
		}
	}
	cfg["gatewayAuth"] = gateway

	agent, _ := cfg["agent"].(map[string]any)
	if agent == nil {
		agent = map[string]any{}
	}
	if (env == manifest.EnvironmentStaging || env == manifest.EnvironmentProd) && !overrides.AllowSandboxOff {
		if mode, _ := agent["sandbox"].(string); mode == "off" {
			agent["sandbox"] = "all"
		}
	}
	cfg["agent"] = agent

	if elevated, _ := cfg["elevatedToolsEnabled"].(bool); elevated {
		allowList, _ := cfg["elevatedToolsAllowList"].([]any)
		if len(allowList) == 0 {
			cfg["elevatedToolsEnabled"] = false
		}
	}

	if _, set := cfg["logRedaction"]; !set {
		cfg["logRedaction"] = "tools"
	}
}

func randomHexToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
