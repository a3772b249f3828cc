// Package repository defines the persistence ports the reconciler consumes:
// BotInstance records, gateway connections, profiles, deployment targets,
// and A2A keys. The concrete storage backend is deliberately unspecified by
// the core (spec §6); package repository/memory provides a reference
// in-memory adapter used by tests and local development.
package repository

import (
	"time"

	"github.com/openclaw/reconciler-core/internal/instance"
	"github.com/openclaw/reconciler-core/internal/manifest"
)

// DeploymentType selects which deployment-target adapter manages an
// instance's compute.
type DeploymentType string

const (
	DeploymentTypeLocalContainer DeploymentType = "local_container"
	DeploymentTypeAWSVM          DeploymentType = "aws_vm"
	DeploymentTypeGCPVM          DeploymentType = "gcp_vm"
	DeploymentTypeAzureVM        DeploymentType = "azure_vm"
)

// BotInstance is the central persisted entity.
type BotInstance struct {
	ID                 string
	Name               string
	Status             instance.Status
	Health             instance.Health
	Conditions         []instance.Condition
	DesiredManifest    *manifest.Manifest
	ConfigHash         string
	DeploymentType     DeploymentType
	DeploymentTargetID string
	ProfileName        string
	GatewayPort        int
	OpenClawVersion    string
	LastReconcileAt    *time.Time
	LastHealthCheckAt  *time.Time
	LastError          string
	ErrorCount         int
	RestartCount       int
	RunningSince       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Metadata           map[string]any
}

// ToFSMRecord projects the bookkeeping fields the status FSM mutates.
func (b *BotInstance) ToFSMRecord() *instance.Record {
	return &instance.Record{
		RunningSince: b.RunningSince,
		LastError:    b.LastError,
		ErrorCount:   b.ErrorCount,
		RestartCount: b.RestartCount,
	}
}

// ApplyFSMRecord writes an instance.Record's fields back onto the instance.
func (b *BotInstance) ApplyFSMRecord(rec *instance.Record) {
	b.RunningSince = rec.RunningSince
	b.LastError = rec.LastError
	b.ErrorCount = rec.ErrorCount
	b.RestartCount = rec.RestartCount
}

// ConnectionStatus is a GatewayConnection's liveness.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
)

// GatewayConnection is the one-per-instance record of the agent WebSocket
// endpoint and its last observed heartbeat.
type GatewayConnection struct {
	InstanceID    string
	Host          string
	Port          int
	AuthToken     string
	Status        ConnectionStatus
	ConfigHash    string
	LastHeartbeat time.Time
}

// OpenClawProfile records the on-target paths and base port for an
// instance's agent process.
type OpenClawProfile struct {
	InstanceID    string
	ConfigPath    string
	StateDir      string
	WorkspaceRoot string
	BasePort      int
}

// DeploymentTarget is the optional, shared persistent configuration for a
// target environment (credentials, region/zone, network identifiers).
type DeploymentTarget struct {
	ID          string
	Type        DeploymentType
	Region      string
	Zone        string
	NetworkID   string
	Credentials map[string]string
	Tags        map[string]string
}

// A2AKey is a per-instance credential used to authenticate one bot's calls
// to another; plaintext is returned exactly once at generation.
type A2AKey struct {
	InstanceID string
	KeyHash    string
	KeyPrefix  string
	Label      string
	IsActive   bool
	CreatedAt  time.Time
}
