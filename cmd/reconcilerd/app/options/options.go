// Package options defines reconcilerd's command-line surface, composed the
// same way the teacher's per-binary Options structs compose pkg/options
// concern structs (see cmd/cpeer-hub/app/options).
package options

import (
	"fmt"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/openclaw/reconciler-core/internal/app"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/pkg/options"
)

// BackingStoreKind selects which backingstore.Store implementation
// reconcilerd wires into the lifecycle manager.
type BackingStoreKind string

const (
	BackingStoreNone  BackingStoreKind = "none"
	BackingStoreLocal BackingStoreKind = "local"
	BackingStoreMinIO BackingStoreKind = "minio"
)

// SchedulerOptions tunes the periodic scheduler (spec §4.6).
type SchedulerOptions struct {
	AutoReconcile bool `json:"auto-reconcile" mapstructure:"auto-reconcile"`
}

func NewSchedulerOptions() *SchedulerOptions {
	return &SchedulerOptions{AutoReconcile: true}
}

func (o *SchedulerOptions) Validate() []error { return nil }

func (o *SchedulerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.AutoReconcile, "scheduler.auto-reconcile", o.AutoReconcile,
		"Automatically reconcile instances with drift findings after each periodic drift scan.")
}

// DeployTargetOptions configures the deployment-target factory (spec §4.3).
type DeployTargetOptions struct {
	LocalContainerImage string `json:"local-container-image" mapstructure:"local-container-image"`
	LocalConfigDir      string `json:"local-config-dir" mapstructure:"local-config-dir"`
}

func NewDeployTargetOptions() *DeployTargetOptions {
	return &DeployTargetOptions{
		LocalContainerImage: "ghcr.io/openclaw/agent:latest",
		LocalConfigDir:      "/var/lib/openclaw-agent/configs",
	}
}

func (o *DeployTargetOptions) Validate() []error {
	if o.LocalContainerImage == "" {
		return []error{fmt.Errorf("deploytarget.local-container-image must not be empty")}
	}
	if o.LocalConfigDir == "" {
		return []error{fmt.Errorf("deploytarget.local-config-dir must not be empty")}
	}
	return nil
}

func (o *DeployTargetOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.LocalContainerImage, "deploytarget.local-container-image", o.LocalContainerImage,
		"Container image the local-container adapter runs for a managed instance's agent.")
	fs.StringVar(&o.LocalConfigDir, "deploytarget.local-config-dir", o.LocalConfigDir,
		"Host directory bind-mounted into each local-container instance for config delivery.")
}

// BackingStoreOptions selects and configures the update() persistence
// target (spec §4.2: "also persist the config to the target's backing
// store").
type BackingStoreOptions struct {
	Kind     string             `json:"kind" mapstructure:"kind"`
	LocalDir string             `json:"local-dir" mapstructure:"local-dir"`
	S3       *options.S3Options `json:"s3" mapstructure:"s3"`
}

func NewBackingStoreOptions() *BackingStoreOptions {
	return &BackingStoreOptions{
		Kind:     string(BackingStoreLocal),
		LocalDir: "/var/lib/reconcilerd/configs",
		S3:       options.NewS3Options(),
	}
}

func (o *BackingStoreOptions) Validate() []error {
	var errs []error
	switch BackingStoreKind(o.Kind) {
	case BackingStoreNone, BackingStoreLocal, BackingStoreMinIO:
	default:
		errs = append(errs, fmt.Errorf("backingstore.kind must be one of none|local|minio, got %q", o.Kind))
	}
	if BackingStoreKind(o.Kind) == BackingStoreMinIO {
		errs = append(errs, o.S3.Validate()...)
	}
	return errs
}

func (o *BackingStoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "backingstore.kind", o.Kind, "Backing store for applied configs: none|local|minio.")
	fs.StringVar(&o.LocalDir, "backingstore.local-dir", o.LocalDir, "Directory used by the local backing store.")
	o.S3.AddFlags(fs)
}

// AIGatewayOptions configures the optional AI-gateway provider block the
// config generator injects (spec §4.4 step 4).
type AIGatewayOptions struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Provider string `json:"provider" mapstructure:"provider"`
	BaseURL  string `json:"base-url" mapstructure:"base-url"`
	APIKey   string `json:"api-key" mapstructure:"api-key"`
}

func NewAIGatewayOptions() *AIGatewayOptions {
	return &AIGatewayOptions{Provider: "openclaw-gateway"}
}

func (o *AIGatewayOptions) Validate() []error {
	if o.Enabled && o.BaseURL == "" {
		return []error{fmt.Errorf("aigateway.base-url is required when aigateway.enabled is set")}
	}
	return nil
}

func (o *AIGatewayOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "aigateway.enabled", o.Enabled, "Inject the AI-gateway provider block into generated configs.")
	fs.StringVar(&o.Provider, "aigateway.provider", o.Provider, "AI-gateway provider name.")
	fs.StringVar(&o.BaseURL, "aigateway.base-url", o.BaseURL, "AI-gateway base URL.")
	fs.StringVar(&o.APIKey, "aigateway.api-key", o.APIKey, "AI-gateway API key.")
}

// ReconcilerOptions aggregates every concern reconcilerd's main needs,
// mirroring the shape of cmd/cpeer-hub/app/options.HubOptions.
type ReconcilerOptions struct {
	// ConfigFile, when set, is watched for changes so a subset of options
	// (currently Scheduler.AutoReconcile) can be tuned without a restart.
	ConfigFile string `json:"-" mapstructure:"-"`

	HTTP         *options.HttpOptions `json:"http" mapstructure:"http"`
	Scheduler    *SchedulerOptions    `json:"scheduler" mapstructure:"scheduler"`
	DeployTarget *DeployTargetOptions `json:"deploytarget" mapstructure:"deploytarget"`
	BackingStore *BackingStoreOptions `json:"backingstore" mapstructure:"backingstore"`
	AIGateway    *AIGatewayOptions    `json:"aigateway" mapstructure:"aigateway"`
	Log          *log.Options         `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ReconcilerOptions)(nil)

// NewReconcilerOptions returns a ReconcilerOptions populated with defaults.
func NewReconcilerOptions() *ReconcilerOptions {
	return &ReconcilerOptions{
		HTTP:         options.NewHttpOptions(),
		Scheduler:    NewSchedulerOptions(),
		DeployTarget: NewDeployTargetOptions(),
		BackingStore: NewBackingStoreOptions(),
		AIGateway:    NewAIGatewayOptions(),
		Log:          log.NewOptions(),
	}
}

// Flags implements app.NamedFlagSetOptions.
func (o *ReconcilerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fss.FlagSet("global").StringVar(&o.ConfigFile, "config", o.ConfigFile,
		"Path to a YAML config file watched for live-reloadable options (scheduler.auto-reconcile).")
	o.HTTP.AddFlags(fss.FlagSet("http"))
	o.Scheduler.AddFlags(fss.FlagSet("scheduler"))
	o.DeployTarget.AddFlags(fss.FlagSet("deploytarget"))
	o.BackingStore.AddFlags(fss.FlagSet("backingstore"))
	o.AIGateway.AddFlags(fss.FlagSet("aigateway"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Validate implements app.NamedFlagSetOptions.
func (o *ReconcilerOptions) Validate() []error {
	var errs []error
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Scheduler.Validate()...)
	errs = append(errs, o.DeployTarget.Validate()...)
	errs = append(errs, o.BackingStore.Validate()...)
	errs = append(errs, o.AIGateway.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return []error{agg}
	}
	return nil
}
