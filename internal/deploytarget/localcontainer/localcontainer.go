// Package localcontainer implements deploytarget.Target against a local
// Docker daemon, in the style of the teacher's docker-runtime
// render.RuntimeDocker: a plain docker/docker client with no Kubernetes
// indirection.
package localcontainer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"github.com/openclaw/reconciler-core/internal/deploytarget"
)

// containerConfigMount is the path, inside the container, that the host
// directory Install prepares is bind-mounted to; the agent entrypoint reads
// its generated config from here.
const containerConfigMount = "/etc/openclaw-agent"

// Adapter drives a single instance's agent container on the local Docker
// daemon.
type Adapter struct {
	cli       *client.Client
	image     string
	configDir string

	mu          sync.Mutex
	containerID string
	hostPort    int
	profileDir  string
	logCallback deploytarget.LogCallback
}

var _ deploytarget.Target = (*Adapter)(nil)

// New builds an Adapter talking to the Docker daemon configured by the
// ambient environment (DOCKER_HOST and friends), running image for every
// instance it manages. configDir is the host directory under which each
// profile gets its own bind-mounted subdirectory for config delivery.
func New(image, configDir string) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("localcontainer: cannot create docker client: %w", err)
	}
	return &Adapter{cli: cli, image: image, configDir: configDir}, nil
}

func (a *Adapter) containerName(profileName string) string {
	return "openclaw-agent-" + profileName
}

func (a *Adapter) Install(ctx context.Context, opts deploytarget.InstallOptions) (string, error) {
	spec := fmt.Sprintf("127.0.0.1::%d/tcp", opts.Port)
	expose, bind, err := nat.ParsePortSpecs([]string{spec})
	if err != nil {
		return "", fmt.Errorf("localcontainer: parse port spec: %w", err)
	}

	env := make([]string, 0, len(opts.EnvVars)+1)
	for k, v := range opts.EnvVars {
		env = append(env, k+"="+v)
	}
	env = append(env, "OPENCLAW_AUTH_TOKEN="+opts.AuthToken)

	profileDir := filepath.Join(a.configDir, opts.ProfileName)
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return "", fmt.Errorf("localcontainer: prepare config mount %q: %w", profileDir, err)
	}

	cfg := &container.Config{
		Image:        a.image,
		Env:          env,
		ExposedPorts: expose,
		Labels: map[string]string{
			"openclaw.profile": opts.ProfileName,
			"openclaw.version": opts.Version,
		},
	}
	hcfg := &container.HostConfig{
		PortBindings: bind,
		Binds:        []string{profileDir + ":" + containerConfigMount},
	}

	name := a.containerName(opts.ProfileName)
	resp, err := a.cli.ContainerCreate(ctx, cfg, hcfg, nil, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("localcontainer: create container: %w", err)
		}
		if err := a.pullImage(ctx); err != nil {
			return "", err
		}
		resp, err = a.cli.ContainerCreate(ctx, cfg, hcfg, nil, nil, name)
		if err != nil {
			return "", fmt.Errorf("localcontainer: create container after pull: %w", err)
		}
	}

	a.mu.Lock()
	a.containerID = resp.ID
	a.hostPort = opts.Port
	a.profileDir = profileDir
	a.mu.Unlock()
	return resp.ID, nil
}

func (a *Adapter) pullImage(ctx context.Context) error {
	out, err := a.cli.ImagePull(ctx, a.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("localcontainer: pull image %q: %w", a.image, err)
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	return err
}

// Configure writes the generated config into the host directory Install
// bind-mounted into the container, after the shared transform and a forced
// all-interfaces listen address for container reachability.
func (a *Adapter) Configure(ctx context.Context, profileName string, port int, config map[string]any, env map[string]string) error {
	transformed, err := deploytarget.TransformForTarget(config)
	if err != nil {
		return fmt.Errorf("localcontainer: transform config: %w", err)
	}
	deploytarget.ForceAllInterfaces(transformed)

	raw, err := json.Marshal(transformed)
	if err != nil {
		return fmt.Errorf("localcontainer: marshal config: %w", err)
	}

	a.mu.Lock()
	profileDir := a.profileDir
	a.mu.Unlock()
	if profileDir == "" {
		return fmt.Errorf("localcontainer: not installed")
	}

	path := filepath.Join(profileDir, "config.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("localcontainer: write config %q: %w", path, err)
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context) error {
	id, err := a.requireContainerID()
	if err != nil {
		return err
	}
	if err := a.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("localcontainer: start: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	id, err := a.requireContainerID()
	if err != nil {
		return err
	}
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("localcontainer: stop: %w", err)
	}
	return nil
}

func (a *Adapter) Restart(ctx context.Context) error {
	id, err := a.requireContainerID()
	if err != nil {
		return err
	}
	if err := a.cli.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("localcontainer: restart: %w", err)
	}
	return nil
}

func (a *Adapter) GetStatus(ctx context.Context) (deploytarget.StatusResult, error) {
	id, err := a.requireContainerID()
	if err != nil {
		return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
	}
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return deploytarget.StatusResult{State: deploytarget.InfraNotInstalled}, nil
		}
		return deploytarget.StatusResult{State: deploytarget.InfraError, Message: err.Error()}, nil
	}
	if info.State == nil {
		return deploytarget.StatusResult{State: deploytarget.InfraUnknown}, nil
	}
	if info.State.Running {
		return deploytarget.StatusResult{State: deploytarget.InfraRunning}, nil
	}
	return deploytarget.StatusResult{State: deploytarget.InfraStopped}, nil
}

func (a *Adapter) GetEndpoint(ctx context.Context) (deploytarget.Endpoint, error) {
	a.mu.Lock()
	port := a.hostPort
	a.mu.Unlock()
	return deploytarget.Endpoint{Host: "127.0.0.1", Port: port, Protocol: deploytarget.ProtocolWS}, nil
}

func (a *Adapter) Destroy(ctx context.Context) error {
	id, err := a.requireContainerID()
	if err != nil {
		return nil
	}
	_ = a.cli.ContainerStop(ctx, id, container.StopOptions{})
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("localcontainer: remove container: %w", err)
	}
	return nil
}

func (a *Adapter) GetLogs(ctx context.Context, opts deploytarget.LogOptions) ([]string, error) {
	id, err := a.requireContainerID()
	if err != nil {
		return nil, err
	}
	since := ""
	if opts.Since > 0 {
		since = strconv.FormatInt(opts.Since, 10)
	}
	tail := "all"
	if opts.MaxLines > 0 {
		tail = strconv.Itoa(opts.MaxLines)
	}
	rc, err := a.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Since: since, Tail: tail})
	if err != nil {
		return nil, fmt.Errorf("localcontainer: logs: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

// UpdateResources is not supported for local containers; CPU/memory limits
// would require a container recreate, which this adapter does not attempt
// implicitly.
func (a *Adapter) UpdateResources(ctx context.Context, spec deploytarget.ResourceSpec) (deploytarget.ResourceUpdateResult, error) {
	return deploytarget.ResourceUpdateResult{
		Supported: false,
		Message:   "local container targets do not support live resource updates",
	}, nil
}

func (a *Adapter) SetLogCallback(cb deploytarget.LogCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logCallback = cb
}

func (a *Adapter) requireContainerID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.containerID == "" {
		return "", fmt.Errorf("localcontainer: not installed")
	}
	return a.containerID, nil
}
