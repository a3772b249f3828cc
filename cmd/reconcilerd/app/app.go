// Package app wires reconcilerd's composition root: every collaborator the
// reconcile engine and scheduler need, built from parsed options, the way
// cmd/cpeer-cloudhub/app.go wires a hub server from HubOptions.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/openclaw/reconciler-core/cmd/reconcilerd/app/options"
	"github.com/openclaw/reconciler-core/internal/a2akey"
	"github.com/openclaw/reconciler-core/internal/app"
	"github.com/openclaw/reconciler-core/internal/configgen"
	"github.com/openclaw/reconciler-core/internal/deploytarget/backingstore"
	"github.com/openclaw/reconciler-core/internal/deploytarget/factory"
	"github.com/openclaw/reconciler-core/internal/drift"
	eventbusmem "github.com/openclaw/reconciler-core/internal/eventbus/memory"
	"github.com/openclaw/reconciler-core/internal/gateway"
	"github.com/openclaw/reconciler-core/internal/lifecycle"
	"github.com/openclaw/reconciler-core/internal/log"
	"github.com/openclaw/reconciler-core/internal/preprocess"
	"github.com/openclaw/reconciler-core/internal/reconcile"
	"github.com/openclaw/reconciler-core/internal/repository/memory"
	"github.com/openclaw/reconciler-core/internal/scheduler"
	"github.com/openclaw/reconciler-core/internal/security"
	"github.com/openclaw/reconciler-core/internal/security/baseline"
)

const shutdownGrace = 5 * time.Second

const (
	commandName = "reconcilerd"
	commandDesc = `reconcilerd runs the reconciliation core that drives a fleet of managed
bot instances toward their declarative desired state: it provisions and
updates agent configuration over a cloud deployment target and a
WebSocket agent protocol, detects drift, and recovers stuck instances on
a periodic schedule.`
)

// NewApp builds the reconcilerd cobra application.
func NewApp() *app.App {
	opts := options.NewReconcilerOptions()
	reconcilerd := &reconcilerApp{opts: opts}
	application := app.NewApp(
		commandName,
		"Run the reconciliation core daemon",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(reconcilerd.run),
		app.WithLoggerContextExtractor(map[string]func(context.Context) string{}),
		app.WithConfigFile(func() string { return opts.ConfigFile }),
		app.WithOnConfigChange(reconcilerd.onConfigChange),
	)
	return application
}

// reconcilerApp holds the scheduler handle so the config-file watch
// (internal/app's WithOnConfigChange) can retune scheduler.AutoReconcile
// after run has built it.
type reconcilerApp struct {
	opts  *options.ReconcilerOptions
	sched atomic.Pointer[scheduler.Scheduler]
}

func (r *reconcilerApp) onConfigChange(v *viper.Viper) {
	if sched := r.sched.Load(); sched != nil {
		sched.SetAutoReconcile(v.GetBool("scheduler.auto-reconcile"))
	}
}

func (r *reconcilerApp) run() error {
	opts := r.opts
	logger := log.NewLogger(opts.Log)
	log.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := memory.New()

	backing, err := buildBackingStore(opts.BackingStore)
	if err != nil {
		return fmt.Errorf("reconcilerd: build backing store: %w", err)
	}

	targetFactory := factory.New(factory.Config{
		LocalContainerImage: opts.DeployTarget.LocalContainerImage,
		LocalConfigDir:      opts.DeployTarget.LocalConfigDir,
		Backing:             backing,
	})

	pool := gateway.NewPool()
	bus := eventbusmem.New()

	chain := preprocess.NewChain()
	chain.Register(&preprocess.VaultSkillInjector{})
	chain.Register(&preprocess.DelegationInjector{})

	var auditor security.Auditor = baseline.New()

	lc := lifecycle.New(repo, pool, bus, targetFactory, backing)
	detector := drift.New(repo, pool, chain)
	keys := a2akey.New(repo.A2AKeys())

	engine := reconcile.New(repo, chain, auditor, lc, detector, keys)
	engine.SetGatewaySettings(gatewaySettingsFrom(opts.AIGateway))

	sched := scheduler.New(repo, detector, engine, lc, scheduler.Options{
		AutoReconcile: opts.Scheduler.AutoReconcile,
	})
	r.sched.Store(sched)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: opts.HTTP.Addr, Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("serving metrics and health endpoints", "addr", opts.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("reconcilerd: http server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting scheduler")
		errCh <- sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "reconcilerd exiting on component failure")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

func buildBackingStore(opts *options.BackingStoreOptions) (backingstore.Store, error) {
	switch options.BackingStoreKind(opts.Kind) {
	case options.BackingStoreNone:
		return nil, nil
	case options.BackingStoreLocal:
		return backingstore.NewLocalStore(opts.LocalDir), nil
	case options.BackingStoreMinIO:
		return backingstore.NewMinIOStore(backingstore.Options{
			Endpoint:        opts.S3.Endpoint,
			AccessKeyID:     opts.S3.AccessKeyID,
			SecretAccessKey: opts.S3.SecretAccessKey,
			UseSSL:          opts.S3.UseSSL,
			BucketName:      opts.S3.BucketName,
		})
	default:
		return nil, fmt.Errorf("reconcilerd: unknown backing store kind %q", opts.Kind)
	}
}

// gatewaySettingsFrom translates the parsed AI-gateway options into the
// config generator's GatewaySettings; kept here rather than in options so
// internal/configgen stays free of any cobra/pflag dependency.
func gatewaySettingsFrom(opts *options.AIGatewayOptions) configgen.GatewaySettings {
	return configgen.GatewaySettings{
		Enabled:  opts.Enabled,
		Provider: opts.Provider,
		BaseURL:  opts.BaseURL,
		APIKey:   opts.APIKey,
	}
}
