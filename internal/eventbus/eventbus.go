// Package eventbus defines the fire-and-forget provisioning event stream
// the reconciler writes to and an external dashboard reads from (spec §6).
// The core never reads back from this stream.
package eventbus

// StepState is a provisioning step's progress.
type StepState string

const (
	StepPending    StepState = "pending"
	StepInProgress StepState = "in_progress"
	StepCompleted  StepState = "completed"
	StepError      StepState = "error"
)

// Stream is a log stream tag for emitted lines.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ProvisioningEvent is the transient record emitted to the stream.
type ProvisioningEvent struct {
	InstanceID string
	// Sequence is a monotonic per-instance counter so consumers can detect
	// gaps in the stream.
	Sequence       int
	DeploymentType string
	StepID         string
	State          StepState
	Message        string
	Stream         Stream
	Line           string
}

// Bus is the provisioning event emitter the lifecycle manager writes to.
type Bus interface {
	StartProvisioning(instanceID string, deploymentType string)
	UpdateStep(instanceID, stepID string, state StepState, message string)
	EmitLog(instanceID, stepID string, stream Stream, line string)
	CompleteProvisioning(instanceID string)
	FailProvisioning(instanceID string, reason string)
}
