// Package awsvm implements deploytarget.Target against EC2, using the
// classic aws-sdk-go v1 client the way opendatahub-io-opendatahub-operator
// declares it in its dependency graph.
package awsvm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
)

// InstanceSpec configures the EC2 instance an Adapter brings up.
type InstanceSpec struct {
	Region           string
	AMI              string
	InstanceType     string
	SubnetID         string
	SecurityGroupIDs []string
	KeyName          string
	SharedVPCTag     deploytarget.SharedInfraTag
}

// Adapter drives a single instance's EC2 VM.
type Adapter struct {
	ec2Client *ec2.EC2
	spec      InstanceSpec
	refs      *deploytarget.RefCounter
	botID     string
	backing   backingstore.Store

	mu          sync.Mutex
	instanceID  string
	logCallback deploytarget.LogCallback
}

var _ deploytarget.Target = (*Adapter)(nil)

// New builds an Adapter for the given region and shared ref counter
// (shared across every awsvm Adapter in the process, since the VPC/subnet
// it guards is regional, not per-instance). botID identifies the managed
// BotInstance this Adapter drives, used as the backing-store key Configure
// persists the generated config under; backing may be nil, in which case
// Configure skips persistence (the cloud-init boot script already carries
// profile/port/version, so the instance still comes up, just without a
// config blob to recover from if the agent's in-memory copy is lost).
func New(spec InstanceSpec, refs *deploytarget.RefCounter, botID string, backing backingstore.Store) (*Adapter, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(spec.Region)})
	if err != nil {
		return nil, fmt.Errorf("awsvm: create session: %w", err)
	}
	return &Adapter{ec2Client: ec2.New(sess), spec: spec, refs: refs, botID: botID, backing: backing}, nil
}

func (a *Adapter) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	a.refs.Acquire(a.spec.SharedVPCTag)

	userData := cloudInitUserData(opts)
	out, err := a.ec2Client.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(a.spec.AMI),
		InstanceType:     aws.String(a.spec.InstanceType),
		MinCount:         aws.Int64(1),
		MaxCount:         aws.Int64(1),
		SubnetId:         aws.String(a.spec.SubnetID),
		SecurityGroupIds: aws.StringSlice(a.spec.SecurityGroupIDs),
		KeyName:          aws.String(a.spec.KeyName),
		UserData:         aws.String(userData),
		TagSpecifications: []*ec2.TagSpecification{{
			ResourceType: aws.String("instance"),
			Tags: []*ec2.Tag{
				{Key: aws.String("openclaw:profile"), Value: aws.String(opts.ProfileName)},
				{Key: aws.String("openclaw:shared-vpc"), Value: aws.String(string(a.spec.SharedVPCTag))},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("awsvm: run instances: %w", err)
	}
	if len(out.Instances) == 0 {
		return "", fmt.Errorf("awsvm: run instances returned no instances")
	}
	id := aws.StringValue(out.Instances[0].InstanceId)
	a.mu.Lock()
	a.instanceID = id
	a.mu.Unlock()
	return id, nil
}

// cloudInitUserData produces the idempotent boot script bringing up the
// agent process; provider-specific scripting is specified only at the
// contract level (spec §1 Out of scope).
func cloudInitUserData(opts deploytarget.InstallOptions) string {
	return fmt.Sprintf("#!/bin/bash\nopenclaw-agent --profile=%s --port=%d --version=%s\n",
		opts.ProfileName, opts.Port, opts.Version)
}

// Configure persists the generated config to the backing store keyed by
// this instance's BotInstance ID, after the shared target transform; with
// no backing store it only runs the transform. Nothing is pushed to the VM
// itself, and the cloud-init script Install wrote carries only the profile,
// port and version, not the backing-store location.
func (a *Adapter) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	transformed, err := deploytarget.TransformForTarget(config)
	if err != nil {
		return fmt.Errorf("awsvm: transform config: %w", err)
	}
	if a.backing == nil {
		return nil
	}
	raw, err := json.Marshal(transformed)
	if err != nil {
		return fmt.Errorf("awsvm: marshal config: %w", err)
	}
	if err := a.backing.Persist(ctx, a.botID, raw); err != nil {
		return fmt.Errorf("awsvm: persist config: %w", err)
	}
	return nil
}

func (a *Adapter) requireInstanceID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.instanceID == "" {
		return "", fmt.Errorf("awsvm: not installed")
	}
	return a.instanceID, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	id, err := a.requireInstanceID()
	if err != nil {
		return err
	}
	_, err = a.ec2Client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{InstanceIds: []*string{aws.String(id)}})
	if err != nil {
		return fmt.Errorf("awsvm: start instance: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	id, err := a.requireInstanceID()
	if err != nil {
		return err
	}
	_, err = a.ec2Client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{InstanceIds: []*string{aws.String(id)}})
	if err != nil {
		return fmt.Errorf("awsvm: stop instance: %w", err)
	}
	return nil
}

func (a *Adapter) Restart(ctx context.Context) error {
	id, err := a.requireInstanceID()
	if err != nil {
		return err
	}
	_, err = a.ec2Client.RebootInstancesWithContext(ctx, &ec2.RebootInstancesInput{InstanceIds: []*string{aws.String(id)}})
	if err != nil {
		return fmt.Errorf("awsvm: reboot instance: %w", err)
	}
	return nil
}

func (a *Adapter) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	id, err := a.requireInstanceID()
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	}
	out, err := a.ec2Client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: []*string{aws.String(id)}})
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraError, Message: err.Error()}, nil
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	}
	state := aws.StringValue(out.Reservations[0].Instances[0].State.Name)
	switch state {
	case ec2.InstanceStateNameRunning:
		return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
	case ec2.InstanceStateNameStopped:
		return deploytarget.StatusResult{State: deploytarget.InfraStopped}, nil
	case ec2.InstanceStateNameTerminated:
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	default:
		return deploytarget.StatusResult{State: deploytarget.InfraUnknown, Message: state}, nil
	}
}

func (a *Adapter) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	id, err := a.requireInstanceID()
	if err != nil {
		return deploytarget.Endpoint{}, err
	}
	out, err := a.ec2Client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: []*string{aws.String(id)}})
	if err != nil {
		return deploytarget.Endpoint{}, fmt.Errorf("awsvm: describe instances: %w", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return deploytarget.Endpoint{}, fmt.Errorf("awsvm: instance %q not found", id)
	}
	host := aws.StringValue(out.Reservations[0].Instances[0].PublicIpAddress)
	if host == "" {
		host = aws.StringValue(out.Reservations[0].Instances[0].PrivateIpAddress)
	}
	return deploytarget.Endpoint{Host: host, Port: 18789, Protocol: deploytarget.ProtocolWSS}, nil
}

func (a *Adapter) Destroy(ctx context.Context) error {
	id, err := a.requireInstanceID()
	if err != nil {
		return nil
	}
	if _, err := a.ec2Client.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{InstanceIds: []*string{aws.String(id)}}); err != nil {
		return fmt.Errorf("awsvm: terminate instance: %w", err)
	}
	a.refs.Release(a.spec.SharedVPCTag)

	if a.refs.IsOrphaned(a.spec.SharedVPCTag) {
		// Shared VPC/subnet/security-group cleanup for an orphaned tag
		// would go through ec2.DeleteSubnet/DeleteSecurityGroup here; left
		// as a no-op because this adapter never creates that shared
		// infrastructure itself (spec assumes it's provisioned once,
		// out-of-band, per region).
		return nil
	}
	return nil
}

func (a *Adapter) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	id, err := a.requireInstanceID()
	if err != nil {
		return nil, err
	}
	out, err := a.ec2Client.GetConsoleOutputWithContext(ctx, &ec2.GetConsoleOutputInput{InstanceId: aws.String(id)})
	if err != nil {
		return nil, fmt.Errorf("awsvm: console output: %w", err)
	}
	return []string{aws.StringValue(out.Output)}, nil
}

func (a *Adapter) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	id, err := a.requireInstanceID()
	if err != nil {
		return deploytarget.ResourceUpdateResult{}, err
	}
	if _, err := a.ec2Client.ModifyInstanceAttributeWithContext(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(id),
		InstanceType: &ec2.AttributeValue{Value: aws.String(a.spec.InstanceType)},
	}); err != nil {
		return deploytarget.ResourceUpdateResult{}, fmt.Errorf("awsvm: modify instance attribute: %w", err)
	}
	return deploytarget.ResourceUpdateResult{
		Supported:         true,
		RestartRequired:   true,
		EstimatedDowntime: "2m",
	}, nil
}

func (a *Adapter) SetLogCallback(cb deploytarget.LogCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logCallback = cb
}
