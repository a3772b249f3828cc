// Package azurevm implements deploytarget.Target against Azure Virtual
// Machines via armcompute, the SDK crossplane-crossplane's dependency
// graph already carries indirectly.
package azurevm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
)

// InstanceSpec configures the Azure VM an Adapter brings up.
type InstanceSpec struct {
	SubscriptionID string
	ResourceGroup  string
	Location       string
	VMSize         string
	ImageReference armcompute.ImageReference
	SubnetID       string
	SharedVPCTag   deploytarget.SharedInfraTag
}

// Adapter drives a single instance's Azure VM.
type Adapter struct {
	vmClient *armcompute.VirtualMachinesClient
	spec     InstanceSpec
	refs     *deploytarget.RefCounter
	botID    string
	backing  backingstore.Store

	mu          sync.Mutex
	vmName      string
	logCallback deploytarget.LogCallback
}

var _ deploytarget.Target = (*Adapter)(nil)

// New builds an Adapter using DefaultAzureCredential, the same credential
// chain pattern Azure's SDK examples use for unattended services. botID
// identifies the managed BotInstance this Adapter drives, used as the
// backing-store key Configure persists the generated config under; backing
// may be nil, in which case Configure skips persistence the same way it
// does for awsvm and gcpvm.
func New(spec InstanceSpec, botID string, backing backingstore.Store) (*Adapter, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azurevm: create credential: %w", err)
	}
	client, err := armcompute.NewVirtualMachinesClient(spec.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azurevm: create vm client: %w", err)
	}
	return &Adapter{vmClient: client, spec: spec, botID: botID, backing: backing}, nil
}

func (a *Adapter) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	a.refs.Acquire(a.spec.SharedVPCTag)

	name := "openclaw-" + opts.ProfileName
	poller, err := a.vmClient.BeginCreateOrUpdate(ctx, a.spec.ResourceGroup, name, armcompute.VirtualMachine{
		Location: to.Ptr(a.spec.Location),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(a.spec.VMSize)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &a.spec.ImageReference,
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName: to.Ptr(name),
				CustomData:   to.Ptr(cloudInitUserData(opts)),
			},
		},
		Tags: map[string]*string{
			"openclaw_profile":    to.Ptr(opts.ProfileName),
			"openclaw_shared_vpc": to.Ptr(string(a.spec.SharedVPCTag)),
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("azurevm: begin create: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return "", fmt.Errorf("azurevm: wait for create: %w", err)
	}

	a.mu.Lock()
	a.vmName = name
	a.mu.Unlock()
	return name, nil
}

func cloudInitUserData(opts deploytarget.InstallOptions) string {
	return fmt.Sprintf("#!/bin/bash\nopenclaw-agent --profile=%s --port=%d --version=%s\n",
		opts.ProfileName, opts.Port, opts.Version)
}

// Configure persists the transformed config to the shared
// backingstore.Store (same contract as gcpvm), keyed by this instance's
// BotInstance ID; with no backing store it only runs the transform. Nothing
// is written to the VM's CustomData, which Install set at creation.
func (a *Adapter) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	transformed, err := deploytarget.TransformForTarget(config)
	if err != nil {
		return fmt.Errorf("azurevm: transform config: %w", err)
	}
	if a.backing == nil {
		return nil
	}
	raw, err := json.Marshal(transformed)
	if err != nil {
		return fmt.Errorf("azurevm: marshal config: %w", err)
	}
	if err := a.backing.Persist(ctx, a.botID, raw); err != nil {
		return fmt.Errorf("azurevm: persist config: %w", err)
	}
	return nil
}

func (a *Adapter) requireVMName() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.vmName == "" {
		return "", fmt.Errorf("azurevm: not installed")
	}
	return a.vmName, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	name, err := a.requireVMName()
	if err != nil {
		return err
	}
	poller, err := a.vmClient.BeginStart(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return fmt.Errorf("azurevm: begin start: %w", err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (a *Adapter) Stop(ctx context.Context) error {
	name, err := a.requireVMName()
	if err != nil {
		return err
	}
	poller, err := a.vmClient.BeginDeallocate(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return fmt.Errorf("azurevm: begin deallocate: %w", err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (a *Adapter) Restart(ctx context.Context) error {
	name, err := a.requireVMName()
	if err != nil {
		return err
	}
	poller, err := a.vmClient.BeginRestart(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return fmt.Errorf("azurevm: begin restart: %w", err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (a *Adapter) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	name, err := a.requireVMName()
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	}
	resp, err := a.vmClient.InstanceView(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraError, Message: err.Error()}, nil
	}
	for _, s := range resp.Statuses {
		if s.Code == nil {
			continue
		}
		switch *s.Code {
		case "PowerState/running":
			return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
		case "PowerState/deallocated", "PowerState/stopped":
			return deploytarget.StatusResult{State: deploytarget.InfraStopped}, nil
		}
	}
	return deploytarget.StatusResult{State: deploytarget.InfraUnknown}, nil
}

func (a *Adapter) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	name, err := a.requireVMName()
	if err != nil {
		return deploytarget.Endpoint{}, err
	}
	// The VM's public IP lives on its NIC's IP configuration, a separate
	// armnetwork call this adapter's contract-level endpoint resolution
	// delegates to at wiring time; the VM name is returned as a stand-in
	// host identifier here.
	return deploytarget.Endpoint{Host: name, Port: 18789, Protocol: deploytarget.ProtocolWSS}, nil
}

func (a *Adapter) Destroy(ctx context.Context) error {
	name, err := a.requireVMName()
	if err != nil {
		return nil
	}
	poller, err := a.vmClient.BeginDelete(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return fmt.Errorf("azurevm: begin delete: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("azurevm: wait for delete: %w", err)
	}
	a.refs.Release(a.spec.SharedVPCTag)
	return nil
}

func (a *Adapter) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	name, err := a.requireVMName()
	if err != nil {
		return nil, err
	}
	resp, err := a.vmClient.RetrieveBootDiagnosticsData(ctx, a.spec.ResourceGroup, name, nil)
	if err != nil {
		return nil, fmt.Errorf("azurevm: boot diagnostics: %w", err)
	}
	if resp.SerialConsoleLogBlobURI == nil {
		return nil, nil
	}
	return []string{*resp.SerialConsoleLogBlobURI}, nil
}

func (a *Adapter) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	name, err := a.requireVMName()
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, err
	}
	poller, err := a.vmClient.BeginUpdate(ctx, a.spec.ResourceGroup, name, armcompute.VirtualMachineUpdate{
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(a.spec.VMSize)),
			},
		},
	}, nil)
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, fmt.Errorf("azurevm: begin update: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return deploytarget.ResourceUpdateResult{}, err
	}
	return deploytarget.ResourceUpdateResult{Supported: true, RestartRequired: true, EstimatedDowntime: "3m"}, nil
}

func (a *Adapter) SetLogCallback(cb deploytarget.LogCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logCallback = cb
}
