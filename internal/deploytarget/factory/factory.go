// Package factory resolves the deploytarget.Target adapter for a
// BotInstance's deploymentType with a switch in Factory.Build. It lives outside package
// deploytarget itself so it can import every concrete adapter
// (localcontainer, awsvm, gcpvm, azurevm) without those adapters ever
// importing it back.
package factory

import (
	"context"
	"fmt"

	"google.golang.org/api/option"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/deploytarget/awsvm"
	"github.com/openclaw/reconciler-core/internal/deploytarget/azurevm"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
	"github.com/openclaw/reconciler-core/internal/deploytarget/gcpvm"
	"github.com/openclaw/reconciler-core/internal/deploytarget/localcontainer"
	"github.com/openclaw/reconciler-core/internal/repository"
)

// Config carries the process-wide settings a Factory needs to build any
// adapter: the image every local-container instance runs, the reference
// counters shared across every adapter instance for a given cloud, since
// the VPC/subnet/security-group they guard is regional, not per-instance
// (spec §4.3 shared-infrastructure discipline), and the backing store each
// adapter's Configure persists the generated config to.
type Config struct {
	LocalContainerImage string
	LocalConfigDir      string
	Backing             backingstore.Store
	AWSRefCounter       *deploytarget.RefCounter
	GCPRefCounter       *deploytarget.RefCounter
	GCPClientOptions    []option.ClientOption
}

// Factory builds a fresh deploytarget.Target for a BotInstance on demand.
// Adapters are stateful per running instance (they cache the cloud/
// container ID they create in memory) so the factory is consulted once
// per instance by the lifecycle manager's own Target cache, not once per
// call.
type Factory struct {
	cfg Config
}

// New returns a Factory, filling in ref counters if the caller did not
// supply process-wide shared ones.
func New(cfg Config) *Factory {
	if cfg.AWSRefCounter == nil {
		cfg.AWSRefCounter = deploytarget.NewRefCounter()
	}
	if cfg.GCPRefCounter == nil {
		cfg.GCPRefCounter = deploytarget.NewRefCounter()
	}
	if cfg.LocalConfigDir == "" {
		cfg.LocalConfigDir = "/var/lib/openclaw-agent/configs"
	}
	return &Factory{cfg: cfg}
}

// Build resolves the Target adapter for inst, drawing provider-specific
// overrides from inst.Metadata and, when present, the shared
// DeploymentTarget record (spec §3: "opaque metadata (provider-specific
// credentials and overrides)").
func (f *Factory) Build(ctx context.Context, inst *repository.BotInstance, target *repository.DeploymentTarget) (deploytarget.Target, error) {
	switch inst.DeploymentType {
	case repository.DeploymentTypeLocalContainer:
		image := metaString(inst.Metadata, "image", f.cfg.LocalContainerImage)
		return localcontainer.New(image, f.cfg.LocalConfigDir)

	case repository.DeploymentTypeAWSVM:
		spec := awsvm.InstanceSpec{
			Region:           regionOf(inst, target),
			AMI:              metaString(inst.Metadata, "ami", ""),
			InstanceType:     metaString(inst.Metadata, "instanceType", "t3.small"),
			SubnetID:         metaString(inst.Metadata, "subnetId", ""),
			SecurityGroupIDs: metaStringSlice(inst.Metadata, "securityGroupIds"),
			KeyName:          metaString(inst.Metadata, "keyName", ""),
			SharedVPCTag:     sharedTag(target),
		}
		return awsvm.New(spec, f.cfg.AWSRefCounter, inst.ID, f.cfg.Backing)

	case repository.DeploymentTypeGCPVM:
		spec := gcpvm.InstanceSpec{
			Project:      metaString(inst.Metadata, "project", ""),
			Zone:         zoneOf(inst, target),
			MachineType:  metaString(inst.Metadata, "machineType", "e2-small"),
			SourceImage:  metaString(inst.Metadata, "sourceImage", ""),
			Network:      metaString(inst.Metadata, "network", ""),
			Subnetwork:   metaString(inst.Metadata, "subnetwork", ""),
			SharedVPCTag: sharedTag(target),
		}
		return gcpvm.New(ctx, spec, f.cfg.GCPRefCounter, inst.ID, f.cfg.Backing, f.cfg.GCPClientOptions...)

	case repository.DeploymentTypeAzureVM:
		spec := azurevm.InstanceSpec{
			SubscriptionID: metaString(inst.Metadata, "subscriptionId", ""),
			ResourceGroup:  metaString(inst.Metadata, "resourceGroup", ""),
			Location:       regionOf(inst, target),
			VMSize:         metaString(inst.Metadata, "vmSize", "Standard_B1s"),
			SubnetID:       metaString(inst.Metadata, "subnetId", ""),
			SharedVPCTag:   sharedTag(target),
		}
		return azurevm.New(spec, inst.ID, f.cfg.Backing)

	default:
		return nil, fmt.Errorf("factory: unknown deployment type %q", inst.DeploymentType)
	}
}

func regionOf(inst *repository.BotInstance, target *repository.DeploymentTarget) string {
	if target != nil && target.Region != "" {
		return target.Region
	}
	return metaString(inst.Metadata, "region", "")
}

func zoneOf(inst *repository.BotInstance, target *repository.DeploymentTarget) string {
	if target != nil && target.Zone != "" {
		return target.Zone
	}
	return metaString(inst.Metadata, "zone", "")
}

func sharedTag(target *repository.DeploymentTarget) deploytarget.SharedInfraTag {
	if target == nil {
		return ""
	}
	if tag, ok := target.Tags["sharedInfra"]; ok {
		return deploytarget.SharedInfraTag(tag)
	}
	return deploytarget.SharedInfraTag(target.NetworkID)
}

func metaString(meta map[string]any, key, fallback string) string {
	if meta == nil {
		return fallback
	}
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func metaStringSlice(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
