package detect

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"easytalking/internal/logging"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// DefaultServingImage is the TensorFlow Serving build the model is tested against
	DefaultServingImage = "tensorflow/serving:2.14.1"

	servingRESTPort = "8501/tcp"
	containerName   = "easytalking-serving"
)

// dockerAPI is the part of the docker client the runtime uses
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, options container.StartOptions) error
	ContainerStop(ctx context.Context, id string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error
	Close() error
}

// RuntimeConfig describes the serving container
type RuntimeConfig struct {
	Image     string
	ModelName string
	// ModelDir is the host directory holding numbered model versions
	ModelDir string
	HostPort int
}

// Runtime runs TensorFlow Serving in a local docker container
type Runtime struct {
	cli dockerAPI
	cfg RuntimeConfig

	mu          sync.Mutex
	containerID string
}

// NewRuntime connects to the docker daemon from the environment
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newRuntime(cli, cfg), nil
}

func newRuntime(cli dockerAPI, cfg RuntimeConfig) *Runtime {
	if cfg.Image == "" {
		cfg.Image = DefaultServingImage
	}
	return &Runtime{cli: cli, cfg: cfg}
}

// BaseURL is the REST endpoint of the serving container
func (r *Runtime) BaseURL() string {
	return "http://127.0.0.1:" + strconv.Itoa(r.cfg.HostPort)
}

// Start pulls the image when it is not cached, replaces any container left from a previous run
// and starts a fresh one serving the model directory
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker unavailable: %w", err)
	}

	if err := r.ensureImage(ctx); err != nil {
		return err
	}

	if err := r.removeStale(ctx); err != nil {
		return err
	}

	port := nat.Port(servingRESTPort)
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        r.cfg.Image,
			Env:          []string{"MODEL_NAME=" + r.cfg.ModelName},
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       map[string]string{"app": "easytalking"},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(r.cfg.HostPort)}},
			},
			Mounts: []mount.Mount{{
				Type:     mount.TypeBind,
				Source:   r.cfg.ModelDir,
				Target:   "/models/" + r.cfg.ModelName,
				ReadOnly: true,
			}},
		},
		nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("create serving container: %w", err)
	}
	for _, w := range resp.Warnings {
		logging.Warn("Docker warning", "warning", w)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("start serving container: %w", err)
	}
	r.containerID = resp.ID
	logging.Info("Serving container started", "id", shortID(resp.ID), "port", r.cfg.HostPort)
	return nil
}

// ensureImage pulls the serving image only when the daemon does not have it,
// so a cached image starts without registry access
func (r *Runtime) ensureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.cfg.Image)
	if err == nil {
		logging.Debug("Serving image cached", "image", r.cfg.Image)
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("inspect %s: %w", r.cfg.Image, err)
	}

	logging.Info("Pulling serving image", "image", r.cfg.Image)
	rc, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", r.cfg.Image, err)
	}
	// the pull only completes once the progress stream is drained
	_, err = io.Copy(io.Discard, rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("pull %s: %w", r.cfg.Image, err)
	}
	return nil
}

func (r *Runtime) removeStale(ctx context.Context) error {
	stale, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", containerName)),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range stale {
		logging.Info("Removing stale serving container", "id", shortID(c.ID), "state", c.State)
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove stale container: %w", err)
		}
	}
	return nil
}

// Stop stops and removes the container started by Start
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.containerID == "" {
		return nil
	}
	id := r.containerID
	r.containerID = ""

	timeout := 10
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		logging.Warn("Failed to stop serving container", "id", shortID(id), "error", err)
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove serving container: %w", err)
	}
	logging.Info("Serving container removed", "id", shortID(id))
	return nil
}

// Close releases the docker client
func (r *Runtime) Close() error {
	return r.cli.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
