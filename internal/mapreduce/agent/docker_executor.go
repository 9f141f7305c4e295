package agent

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerExecutor runs each agent command inside a long-lived container,
// one container per worktree, for callers that want filesystem and
// process isolation beyond a plain git worktree.
type DockerExecutor struct {
	cli         *client.Client
	image       string
	containers  map[string]string // workdir -> container id
}

func NewDockerExecutor(image string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if image == "" {
		image = "ubuntu:22.04"
	}
	return &DockerExecutor{cli: cli, image: image, containers: map[string]string{}}, nil
}

func (d *DockerExecutor) Close() error {
	return d.cli.Close()
}

func (d *DockerExecutor) containerFor(ctx context.Context, workdir string) (string, error) {
	if id, ok := d.containers[workdir]; ok {
		return id, nil
	}

	cfg := &container.Config{
		Image:      d.image,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{fmt.Sprintf("%s:/workspace", workdir)},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", workdir, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container for %s: %w", workdir, err)
	}

	d.containers[workdir] = resp.ID
	return resp.ID, nil
}

func (d *DockerExecutor) Exec(ctx context.Context, shell, workdir string, timeout time.Duration) (ExecResult, error) {
	containerID, err := d.containerFor(ctx, workdir)
	if err != nil {
		return ExecResult{}, err
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timeoutSeconds := int(timeout.Seconds())
	if timeoutSeconds < 1 {
		timeoutSeconds = 1
	}

	execCfg := container.ExecOptions{
		Cmd:          []string{"timeout", fmt.Sprintf("%d", timeoutSeconds), "sh", "-c", shell},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()

	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("read exec output: %w", err)
	}

	inspectResp, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspect exec: %w", err)
	}

	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspectResp.ExitCode,
		Duration: time.Since(start),
		TimedOut: inspectResp.ExitCode == 124,
	}, nil
}

// Destroy stops and removes the container bound to workdir, if any.
func (d *DockerExecutor) Destroy(ctx context.Context, workdir string) error {
	id, ok := d.containers[workdir]
	if !ok {
		return nil
	}
	delete(d.containers, workdir)
	timeout := 5
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
