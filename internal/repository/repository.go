package repository

import "context"

// InstanceRepository is the persistence port the reconciler consumes for
// BotInstance records (spec §6). The reconciler holds no in-memory cache of
// this state; every read goes through this interface.
type InstanceRepository interface {
	FindByID(ctx context.Context, id string) (*BotInstance, error)
	// FindByIDWithRelations loads the instance together with its
	// GatewayConnection and OpenClawProfile, where present.
	FindByIDWithRelations(ctx context.Context, id string) (*BotInstance, *GatewayConnection, *OpenClawProfile, error)
	FindManyByStatus(ctx context.Context, statuses ...string) ([]*BotInstance, error)
	Update(ctx context.Context, b *BotInstance) error
	Delete(ctx context.Context, id string) error
}

// GatewayConnectionRepository manages the one-per-instance connection
// record.
type GatewayConnectionRepository interface {
	Upsert(ctx context.Context, c *GatewayConnection) error
	Get(ctx context.Context, instanceID string) (*GatewayConnection, error)
	Delete(ctx context.Context, instanceID string) error
}

// ProfileRepository manages the one-per-instance OpenClawProfile record.
type ProfileRepository interface {
	Upsert(ctx context.Context, p *OpenClawProfile) error
	Get(ctx context.Context, instanceID string) (*OpenClawProfile, error)
	Delete(ctx context.Context, instanceID string) error
}

// DeploymentTargetRepository manages persistent shared target
// configuration.
type DeploymentTargetRepository interface {
	FindByID(ctx context.Context, id string) (*DeploymentTarget, error)
	Upsert(ctx context.Context, t *DeploymentTarget) error
	Delete(ctx context.Context, id string) error
}

// A2AKeyRepository manages per-instance A2A credentials.
type A2AKeyRepository interface {
	Create(ctx context.Context, k *A2AKey) error
	FindActiveByLabel(ctx context.Context, instanceID, label string) (*A2AKey, error)
	Revoke(ctx context.Context, instanceID, label string) error
}

// Repository aggregates every persistence port the reconciler consumes.
type Repository interface {
	Instances() InstanceRepository
	GatewayConnections() GatewayConnectionRepository
	Profiles() ProfileRepository
	DeploymentTargets() DeploymentTargetRepository
	A2AKeys() A2AKeyRepository
}
