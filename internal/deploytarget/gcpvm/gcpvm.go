// Package gcpvm implements deploytarget.Target against Google Compute
// Engine, generalized from opendatahub-io-opendatahub-operator's
// cloud.google.com/go/container dependency onto the sibling
// cloud.google.com/go/compute/apiv1 client (GCE instances rather than GKE
// clusters, matching this spec's "VM" deployment target).
package gcpvm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/option"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
)

// InstanceSpec configures the GCE instance an Adapter brings up.
type InstanceSpec struct {
	Project      string
	Zone         string
	MachineType  string
	SourceImage  string
	Network      string
	Subnetwork   string
	SharedVPCTag deploytarget.SharedInfraTag
}

// Adapter drives a single instance's GCE VM.
type Adapter struct {
	client  *compute.InstancesClient
	spec    InstanceSpec
	refs    *deploytarget.RefCounter
	botID   string
	backing backingstore.Store

	mu           sync.Mutex
	instanceName string
	logCallback  deploytarget.LogCallback
}

var _ deploytarget.Target = (*Adapter)(nil)

// New builds an Adapter using application-default credentials, the same
// client-construction shape the other Google API clients in the pack use.
// botID identifies the managed BotInstance this Adapter drives, used as the
// backing-store key Configure persists the generated config under; backing
// may be nil, in which case Configure skips persistence the same way it
// does for awsvm.
func New(ctx context.Context, spec InstanceSpec, refs *deploytarget.RefCounter, botID string, backing backingstore.Store, opts ...option.ClientOption) (*Adapter, error) {
	client, err := compute.NewInstancesRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcpvm: create instances client: %w", err)
	}
	return &Adapter{client: client, spec: spec, refs: refs, botID: botID, backing: backing}, nil
}

func (a *Adapter) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	a.refs.Acquire(a.spec.SharedVPCTag)

	name := "openclaw-" + opts.ProfileName
	req := &computepb.InsertInstanceRequest{
		Project: a.spec.Project,
		Zone:    a.spec.Zone,
		InstanceResource: &computepb.Instance{
			Name:        &name,
			MachineType: machineTypeURL(a.spec.Project, a.spec.Zone, a.spec.MachineType),
			Disks: []*computepb.AttachedDisk{{
				Boot:       boolPtr(true),
				AutoDelete: boolPtr(true),
				InitializeParams: &computepb.AttachedDiskInitializeParams{
					SourceImage: &a.spec.SourceImage,
				},
			}},
			NetworkInterfaces: []*computepb.NetworkInterface{{
				Network:    &a.spec.Network,
				Subnetwork: &a.spec.Subnetwork,
			}},
			Metadata: &computepb.Metadata{
				Items: []*computepb.Items{{
					Key:   strPtr("startup-script"),
					Value: strPtr(cloudInitUserData(opts)),
				}},
			},
			Labels: map[string]string{
				"openclaw_profile":    opts.ProfileName,
				"openclaw_shared_vpc": string(a.spec.SharedVPCTag),
			},
		},
	}
	op, err := a.client.Insert(ctx, req)
	if err != nil {
		return "", fmt.Errorf("gcpvm: insert instance: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return "", fmt.Errorf("gcpvm: wait for insert: %w", err)
	}

	a.mu.Lock()
	a.instanceName = name
	a.mu.Unlock()
	return name, nil
}

func cloudInitUserData(opts deploytarget.InstallOptions) string {
	return fmt.Sprintf("#!/bin/bash\nopenclaw-agent --profile=%s --port=%d --version=%s\n",
		opts.ProfileName, opts.Port, opts.Version)
}

func machineTypeURL(project, zone, machineType string) *string {
	s := fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType)
	_ = project
	return &s
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

// Configure persists the transformed config to the backingstore.Store the
// factory passed in (the same one the AWS and Azure adapters use), keyed by
// this instance's BotInstance ID; with no backing store it only runs the
// transform. Nothing is written to the VM's startup-script metadata.
func (a *Adapter) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	transformed, err := deploytarget.TransformForTarget(config)
	if err != nil {
		return fmt.Errorf("gcpvm: transform config: %w", err)
	}
	if a.backing == nil {
		return nil
	}
	raw, err := json.Marshal(transformed)
	if err != nil {
		return fmt.Errorf("gcpvm: marshal config: %w", err)
	}
	if err := a.backing.Persist(ctx, a.botID, raw); err != nil {
		return fmt.Errorf("gcpvm: persist config: %w", err)
	}
	return nil
}

func (a *Adapter) requireInstanceName() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.instanceName == "" {
		return "", fmt.Errorf("gcpvm: not installed")
	}
	return a.instanceName, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	name, err := a.requireInstanceName()
	if err != nil {
		return err
	}
	op, err := a.client.Start(ctx, &computepb.StartInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return fmt.Errorf("gcpvm: start: %w", err)
	}
	return op.Wait(ctx)
}

func (a *Adapter) Stop(ctx context.Context) error {
	name, err := a.requireInstanceName()
	if err != nil {
		return err
	}
	op, err := a.client.Stop(ctx, &computepb.StopInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return fmt.Errorf("gcpvm: stop: %w", err)
	}
	return op.Wait(ctx)
}

func (a *Adapter) Restart(ctx context.Context) error {
	name, err := a.requireInstanceName()
	if err != nil {
		return err
	}
	op, err := a.client.Reset(ctx, &computepb.ResetInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return fmt.Errorf("gcpvm: reset: %w", err)
	}
	return op.Wait(ctx)
}

func (a *Adapter) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	name, err := a.requireInstanceName()
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	}
	inst, err := a.client.Get(ctx, &computepb.GetInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraError, Message: err.Error()}, nil
	}
	switch inst.GetStatus() {
	case "RUNNING":
		return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
	case "TERMINATED", "STOPPED":
		return deploytarget.StatusResult{State: deploytarget.InfraStopped}, nil
	default:
		return deploytarget.StatusResult{State: deploytarget.InfraUnknown, Message: inst.GetStatus()}, nil
	}
}

func (a *Adapter) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	name, err := a.requireInstanceName()
	if err != nil {
		return deploytarget.Endpoint{}, err
	}
	inst, err := a.client.Get(ctx, &computepb.GetInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return deploytarget.Endpoint{}, fmt.Errorf("gcpvm: get instance: %w", err)
	}
	host := ""
	for _, iface := range inst.GetNetworkInterfaces() {
		for _, cfg := range iface.GetAccessConfigs() {
			if ip := cfg.GetNatIP(); ip != "" {
				host = ip
				break
			}
		}
		if host != "" {
			break
		}
	}
	return deploytarget.Endpoint{Host: host, Port: 18789, Protocol: deploytarget.ProtocolWSS}, nil
}

func (a *Adapter) Destroy(ctx context.Context) error {
	name, err := a.requireInstanceName()
	if err != nil {
		return nil
	}
	op, err := a.client.Delete(ctx, &computepb.DeleteInstanceRequest{Project: a.spec.Project, Zone: a.spec.Zone, Instance: name})
	if err != nil {
		return fmt.Errorf("gcpvm: delete: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("gcpvm: wait for delete: %w", err)
	}
	a.refs.Release(a.spec.SharedVPCTag)
	return nil
}

func (a *Adapter) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	return nil, fmt.Errorf("gcpvm: serial-port log retrieval not implemented")
}

func (a *Adapter) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	name, err := a.requireInstanceName()
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, err
	}
	op, err := a.client.SetMachineType(ctx, &computepb.SetMachineTypeInstanceRequest{
		Project:  a.spec.Project,
		Zone:     a.spec.Zone,
		Instance: name,
		InstancesSetMachineTypeRequestResource: &computepb.InstancesSetMachineTypeRequest{
			MachineType: machineTypeURL(a.spec.Project, a.spec.Zone, a.spec.MachineType),
		},
	})
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, fmt.Errorf("gcpvm: set machine type: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return deploytarget.ResourceUpdateResult{}, err
	}
	return deploytarget.ResourceUpdateResult{Supported: true, RestartRequired: true, EstimatedDowntime: "2m"}, nil
}

func (a *Adapter) SetLogCallback(cb deploytarget.LogCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logCallback = cb
}
