// Package deploytarget defines the abstract compute backend contract every
// deployment-target adapter implements (spec §4.3), plus the shared
// config-transform steps and shared-infrastructure reference counting
// common to all of them.
package deploytarget

import "context"

// InfraState is a target's observed infrastructure state.
type InfraState string

const (
	InfraRunning      InfraState = "running"
	InfraStopped      InfraState = "stopped"
	InfraNotInstalled InfraState = "not-installed"
	InfraError        InfraState = "error"
	InfraUnknown      InfraState = "unknown"
)

// Protocol is the agent endpoint's wire protocol.
type Protocol string

const (
	ProtocolWS  Protocol = "ws"
	ProtocolWSS Protocol = "wss"
)

// InstallOptions carries everything install() needs to idempotently bring
// up compute and supporting infrastructure.
type InstallOptions struct {
	ProfileName string
	Version     string
	Port        int
	EnvVars     map[string]string
	AuthToken   string
}

// StatusResult is getStatus()'s result.
type StatusResult struct {
	State   InfraState
	Message string
}

// Endpoint is getEndpoint()'s result.
type Endpoint struct {
	Host     string
	Port     int
	Protocol Protocol
}

// LogOptions parameterizes getLogs().
type LogOptions struct {
	Since      int64
	MaxLines   int
	StreamName string
}

// LogCallback receives streamed progress lines, tagged by stream.
type LogCallback func(line string, stream string)

// ResourceSpec is updateResources()'s input.
type ResourceSpec struct {
	CPUCores float64
	MemoryMB int
	DiskGB   int
}

// ResourceUpdateResult reports whether a restart is required.
type ResourceUpdateResult struct {
	Supported         bool
	RestartRequired   bool
	EstimatedDowntime string
	Message           string
}

// Target is the interchangeable compute backend contract, selected
// per-instance by deploymentType.
type Target interface {
	Install(ctx context.Context, opts InstallOptions) (instanceID string, err error)
	Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	GetStatus(ctx context.Context) (StatusResult, error)
	GetEndpoint(ctx context.Context) (Endpoint, error)
	Destroy(ctx context.Context) error
	GetLogs(ctx context.Context, opts LogOptions) ([]string, error)
	// UpdateResources is optional; adapters without this capability return
	// ResourceUpdateResult{Supported: false}.
	UpdateResources(ctx context.Context, spec ResourceSpec) (ResourceUpdateResult, error)
	SetLogCallback(cb LogCallback)
}
