package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"podfleet/internal/logger"
	"podfleet/internal/models"
)

// DockerDriver 通过Docker守护进程管理服务的运行单元
type DockerDriver struct {
	cli *client.Client
}

/**
 * Create new Docker driver
 * @returns {*DockerDriver} Driver talking to the local Docker daemon
 * @returns {error} Returns error if the Docker client can't be created
 */
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

/**
 * Ensure the pod network exists, creating it when absent
 * @description
 * - Existing network with the same name is accepted as-is (idempotent)
 * - Internal networks are cut off from the host gateway
 */
func (d *DockerDriver) EnsureNetwork(ctx context.Context, spec NetworkSpec) error {
	_, err := d.cli.NetworkInspect(ctx, spec.Name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", spec.Name, err)
	}

	opts := network.CreateOptions{
		Driver:   "bridge",
		Internal: spec.Internal,
	}
	if spec.Subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: spec.Subnet}},
		}
	}
	if _, err := d.cli.NetworkCreate(ctx, spec.Name, opts); err != nil {
		return fmt.Errorf("failed to create network %s: %w", spec.Name, err)
	}
	logger.Infof("Network %s (%s) created", spec.Name, spec.Subnet)
	return nil
}

func (d *DockerDriver) RemoveNetwork(ctx context.Context, name string) error {
	if err := d.cli.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}

/**
 * Create and start the service's container on the pod network
 * @description
 * - A running container with the same name is left alone (idempotent)
 * - A stale stopped container is removed and recreated from the definition
 * - Resource limits in the definition are advisory, not written to HostConfig
 */
func (d *DockerDriver) StartService(ctx context.Context, pod, netName string, svc *models.ServiceSpecification) error {
	name := UnitName(pod, svc.Name)

	inspect, err := d.cli.ContainerInspect(ctx, name)
	if err == nil {
		if inspect.State != nil && inspect.State.Running {
			return nil
		}
		// 旧容器还在，先清掉再按当前定义重建
		if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stale container %s: %w", name, err)
		}
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	if svc.Build == "" {
		reader, err := d.cli.ImagePull(ctx, svc.Image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", svc.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	exposed, bindings, err := nat.ParsePortSpecs(svc.Ports)
	if err != nil {
		return fmt.Errorf("invalid ports for service %s: %w", svc.Name, err)
	}

	var envList []string
	for k, v := range svc.Environment {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	endpoint := &network.EndpointSettings{}
	if svc.Address != "" {
		endpoint.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: svc.Address}
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        svc.Image,
			Cmd:          strslice.StrSlice(svc.Command),
			Env:          envList,
			ExposedPorts: exposed,
			Labels:       map[string]string{"podfleet.pod": pod, "podfleet.service": svc.Name},
		},
		&container.HostConfig{
			PortBindings: bindings,
			Binds:        containerBinds(pod, svc.Volumes),
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{netName: endpoint},
		},
		nil,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// 启动失败就把刚建的容器清掉，尽力而为
		if rmErr := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logger.Warnf("Failed to remove container %s after failed start: %v", name, rmErr)
		}
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	logger.Infof("Container %s started (ID: %.12s)", name, resp.ID)
	return nil
}

func (d *DockerDriver) StopService(ctx context.Context, pod, name string, grace time.Duration) error {
	unit := UnitName(pod, name)
	timeout := int(grace.Seconds())
	if timeout <= 0 {
		timeout = 15
	}
	if err := d.cli.ContainerStop(ctx, unit, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", unit, err)
	}
	return nil
}

func (d *DockerDriver) RemoveService(ctx context.Context, pod, name string) error {
	unit := UnitName(pod, name)
	if err := d.cli.ContainerRemove(ctx, unit, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", unit, err)
	}
	return nil
}

/**
 * Produce a fresh runnable artifact for the service
 * @description
 * - Services with a build context are rebuilt from it and tagged with the image name
 * - Image-only services are refreshed by pulling the declared reference
 */
func (d *DockerDriver) BuildService(ctx context.Context, pod string, svc *models.ServiceSpecification) error {
	if svc.Build == "" {
		reader, err := d.cli.ImagePull(ctx, svc.Image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", svc.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
		return nil
	}

	buildCtx, err := tarDirectory(svc.Build)
	if err != nil {
		return fmt.Errorf("failed to pack build context %s: %w", svc.Build, err)
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{svc.Image},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", svc.Image, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read build output for %s: %w", svc.Image, err)
	}
	logger.Infof("Image %s built from %s", svc.Image, svc.Build)
	return nil
}

func (d *DockerDriver) ServiceRunning(ctx context.Context, pod, name string) (bool, error) {
	inspect, err := d.cli.ContainerInspect(ctx, UnitName(pod, name))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// ServiceExitStatus 重启策略on-failure需要区分正常退出和异常退出
func (d *DockerDriver) ServiceExitStatus(ctx context.Context, pod, name string) (bool, int, error) {
	inspect, err := d.cli.ContainerInspect(ctx, UnitName(pod, name))
	if err != nil {
		if errdefs.IsNotFound(err) {
			// 容器被外部清掉了，按异常退出处理
			return true, -1, nil
		}
		return false, 0, err
	}
	if inspect.State == nil || inspect.State.Running {
		return false, 0, nil
	}
	return true, inspect.State.ExitCode, nil
}

func (d *DockerDriver) ServiceLogs(ctx context.Context, pod, name string, tail int) (string, error) {
	unit := UnitName(pod, name)
	reader, err := d.cli.ContainerLogs(ctx, unit, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of %s: %w", unit, err)
	}
	defer reader.Close()

	// 日志流是stdout/stderr复用的，需要解复用
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", unit, err)
	}
	return buf.String(), nil
}

func (d *DockerDriver) RemoveVolume(ctx context.Context, name string) error {
	if err := d.cli.VolumeRemove(ctx, name, true); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove volume %s: %w", name, err)
	}
	return nil
}

// containerBinds 卷挂载声明转成docker的bind格式，具名卷加pod前缀保证全局唯一
func containerBinds(pod string, volumes []string) []string {
	var binds []string
	for _, vol := range volumes {
		parts := strings.SplitN(vol, ":", 2)
		if len(parts) != 2 {
			continue
		}
		source := parts[0]
		if !strings.HasPrefix(source, "/") && !strings.HasPrefix(source, ".") {
			source = pod + "-" + source
		}
		binds = append(binds, source+":"+parts[1])
	}
	return binds
}

// tarDirectory 把构建目录打包成tar流给ImageBuild
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
