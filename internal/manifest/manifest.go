// Package manifest defines the declarative envelope consumed by the
// reconciler and the normalization of legacy flat manifests into it.
package manifest

import "fmt"

// Environment is the deployment environment a manifest targets.
type Environment string

const (
	EnvironmentLocal   Environment = "local"
	EnvironmentDev     Environment = "dev"
	EnvironmentStaging Environment = "staging"
	EnvironmentProd    Environment = "prod"
)

// Metadata carries the envelope's identifying and targeting information.
type Metadata struct {
	Name              string            `json:"name"`
	Workspace         string            `json:"workspace,omitempty"`
	Environment       Environment       `json:"environment"`
	Labels            map[string]string `json:"labels,omitempty"`
	DeploymentTarget  string            `json:"deploymentTarget,omitempty"`
	SecurityOverrides SecurityOverrides `json:"securityOverrides,omitempty"`
	// TeamMembers lists the bot IDs this instance delegates to; an empty
	// list means the delegation-config preprocessor has nothing to add.
	TeamMembers []string `json:"teamMembers,omitempty"`
}

// SecurityOverrides lets an operator explicitly opt out of a secure
// default; every field defaults to false (i.e. the secure default applies).
type SecurityOverrides struct {
	AllowOpenGateway bool `json:"allowOpenGateway,omitempty"`
	AllowSandboxOff  bool `json:"allowSandboxOff,omitempty"`
}

// Spec holds the payload forwarded to the config generator.
type Spec struct {
	// OpenClawConfig is treated as an opaque nested structure; the
	// reconciler validates it only insofar as the agent's own schema
	// would, otherwise it is passed through untouched.
	OpenClawConfig map[string]any `json:"openclawConfig"`
}

// Manifest is the structured envelope the reconciler consumes.
type Manifest struct {
	APIVersion string   `json:"apiVersion"`
	Kind       string   `json:"kind"`
	Metadata   Metadata `json:"metadata"`
	Spec       Spec     `json:"spec"`
}

const (
	currentAPIVersion = "v2"
	kindBotInstance   = "BotInstanceManifest"
)

// Clone deep-copies a Manifest so preprocessors and the generator can
// mutate it without aliasing the caller's copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Metadata.Labels = cloneStringMap(m.Metadata.Labels)
	if m.Metadata.TeamMembers != nil {
		cp.Metadata.TeamMembers = append([]string(nil), m.Metadata.TeamMembers...)
	}
	cp.Spec.OpenClawConfig = cloneAny(m.Spec.OpenClawConfig).(map[string]any)
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneAny deep-copies a value built out of map[string]any, []any, and
// scalars — the shape produced by encoding/json unmarshaling into `any`.
func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAny(val)
		}
		return out
	default:
		return v
	}
}

// Normalize wraps a legacy flat manifest (the bare spec.openclawConfig
// object) into the current envelope with default metadata, and fills in
// any missing envelope fields on an already-enveloped manifest.
func Normalize(raw map[string]any, instanceName string) (*Manifest, error) {
	if raw == nil {
		return nil, fmt.Errorf("manifest: empty document")
	}

	if _, hasSpec := raw["spec"]; !hasSpec {
		// Legacy flat manifest: the document itself is the openclawConfig.
		return &Manifest{
			APIVersion: currentAPIVersion,
			Kind:       kindBotInstance,
			Metadata: Metadata{
				Name:        instanceName,
				Environment: EnvironmentDev,
			},
			Spec: Spec{OpenClawConfig: raw},
		}, nil
	}

	m, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if m.APIVersion == "" {
		m.APIVersion = currentAPIVersion
	}
	if m.Kind == "" {
		m.Kind = kindBotInstance
	}
	if m.Metadata.Name == "" {
		m.Metadata.Name = instanceName
	}
	if m.Metadata.Environment == "" {
		m.Metadata.Environment = EnvironmentDev
	}
	if m.Spec.OpenClawConfig == nil {
		m.Spec.OpenClawConfig = map[string]any{}
	}
	return m, nil
}

// Validate enforces the envelope's strict schema: apiVersion and
// metadata.name are required, metadata.environment must be one of the known
// environments, and spec.openclawConfig must be present; kind is not
// checked. spec.openclawConfig is opaque and is not
// otherwise validated here (the agent's own strict schema is authoritative
// and is enforced downstream by config.apply's validationErrors).
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest: nil")
	}
	if m.APIVersion == "" {
		return fmt.Errorf("manifest: apiVersion is required")
	}
	if m.Metadata.Name == "" {
		return fmt.Errorf("manifest: metadata.name is required")
	}
	switch m.Metadata.Environment {
	case EnvironmentLocal, EnvironmentDev, EnvironmentStaging, EnvironmentProd:
	default:
		return fmt.Errorf("manifest: unknown environment %q", m.Metadata.Environment)
	}
	if m.Spec.OpenClawConfig == nil {
		return fmt.Errorf("manifest: spec.openclawConfig is required")
	}
	return nil
}
