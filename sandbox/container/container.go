//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package container evaluates scripts inside a Docker container with no
// network and no privileges.
//
// Script variables are passed as JSON in the WORKFLOW_VARS environment
// variable; nothing else from the host environment is forwarded. When the
// last line written to stdout is valid JSON it becomes the result value.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	archive "github.com/moby/go-archive"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox"
)

const (
	defaultImage         = "python:3.12-slim"
	defaultWorkingDir    = "/workspace"
	containerNamePrefix  = "trpc-workflow-sandbox-"
	varsEnv              = "WORKFLOW_VARS"
	readyTimeout         = 60 * time.Second
	defaultMemoryLimit   = 256 << 20
	defaultPidsLimit     = int64(128)
	defaultNanoCPUsLimit = int64(1_000_000_000)
)

// Evaluator runs scripts through docker exec in one long-lived container.
type Evaluator struct {
	host           string
	dockerFilePath string
	containerName  string
	hostConfig     container.HostConfig
	config         container.Config

	mu          sync.Mutex
	client      *client.Client
	containerID string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithHost sets the Docker daemon address.
func WithHost(host string) Option {
	return func(e *Evaluator) { e.host = host }
}

// WithImage sets the image scripts run in.
func WithImage(img string) Option {
	return func(e *Evaluator) { e.config.Image = img }
}

// WithDockerFilePath builds the image from a directory holding a Dockerfile.
func WithDockerFilePath(path string) Option {
	return func(e *Evaluator) { e.dockerFilePath = path }
}

// WithContainerName names the container instead of generating a name.
func WithContainerName(name string) Option {
	return func(e *Evaluator) { e.containerName = name }
}

// WithMemoryLimit caps container memory in bytes.
func WithMemoryLimit(bytes int64) Option {
	return func(e *Evaluator) { e.hostConfig.Resources.Memory = bytes }
}

// New connects to Docker and starts the sandbox container.
func New(ctx context.Context, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		hostConfig: container.HostConfig{
			AutoRemove:     true,
			Privileged:     false,
			NetworkMode:    "none",
			ReadonlyRootfs: false,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
		},
		config: container.Config{
			Image:      defaultImage,
			WorkingDir: defaultWorkingDir,
			Cmd:        []string{"tail", "-f", "/dev/null"},
			Tty:        false,
			Env:        []string{},
		},
	}
	e.hostConfig.Resources.Memory = defaultMemoryLimit
	pids := defaultPidsLimit
	e.hostConfig.Resources.PidsLimit = &pids
	e.hostConfig.Resources.NanoCPUs = defaultNanoCPUsLimit
	for _, opt := range opts {
		opt(e)
	}
	if e.containerName == "" {
		e.containerName = containerNamePrefix + uuid.NewString()
	}
	if e.dockerFilePath != "" {
		abs, err := filepath.Abs(e.dockerFilePath)
		if err != nil {
			return nil, fmt.Errorf("resolve dockerfile path %s: %w", e.dockerFilePath, err)
		}
		e.dockerFilePath = abs
	}

	var err error
	if e.host != "" {
		e.client, err = client.NewClientWithOpts(client.WithHost(e.host), client.WithAPIVersionNegotiation())
	} else {
		e.client, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if err := e.start(ctx); err != nil {
		_ = e.client.Close()
		return nil, err
	}
	return e, nil
}

func (e *Evaluator) start(ctx context.Context) error {
	if e.dockerFilePath != "" {
		if err := e.buildImage(ctx); err != nil {
			return err
		}
	} else if err := e.ensureImage(ctx); err != nil {
		return err
	}
	resp, err := e.client.ContainerCreate(ctx, &e.config, &e.hostConfig, nil, nil, e.containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if err := e.waitReady(ctx, resp.ID); err != nil {
		return err
	}
	e.containerID = resp.ID
	log.Infof("sandbox container %s started from %s", e.containerName, e.config.Image)
	return nil
}

func (e *Evaluator) ensureImage(ctx context.Context) error {
	images, err := e.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == e.config.Image {
				return nil
			}
		}
	}
	log.Infof("pulling sandbox image %s", e.config.Image)
	reader, err := e.client.ImagePull(ctx, e.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", e.config.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	return nil
}

func (e *Evaluator) buildImage(ctx context.Context) error {
	buildCtx, err := archive.TarWithOptions(e.dockerFilePath, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()
	resp, err := e.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:   []string{e.config.Image},
		Remove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		log.Warnf("reading image build output: %v", err)
	}
	return nil
}

func (e *Evaluator) waitReady(ctx context.Context, id string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(readyTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("container %s not running after %v", id, readyTimeout)
		case <-ticker.C:
			info, err := e.client.ContainerInspect(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to inspect container: %w", err)
			}
			if info.State.Running {
				return nil
			}
			if info.State.Status == "exited" {
				return fmt.Errorf("container exited unexpectedly with code %d", info.State.ExitCode)
			}
		}
	}
}

// Evaluate implements sandbox.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, s *sandbox.Script) (*sandbox.Result, error) {
	e.mu.Lock()
	id := e.containerID
	e.mu.Unlock()
	if id == "" {
		return &sandbox.Result{}, errors.New("sandbox container not running")
	}
	cmd, err := command(s.Language, s.Code)
	if err != nil {
		return &sandbox.Result{}, err
	}
	env, err := environment(s.Variables)
	if err != nil {
		return &sandbox.Result{}, err
	}

	timeout := s.EffectiveTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, err := e.client.ContainerExecCreate(runCtx, id, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return &sandbox.Result{}, fmt.Errorf("failed to create exec: %w", err)
	}
	hijacked, err := e.client.ContainerExecAttach(runCtx, exec.ID, container.ExecStartOptions{})
	if err != nil {
		return &sandbox.Result{}, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer hijacked.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader)
		copied <- err
	}()
	select {
	case <-runCtx.Done():
		hijacked.Close()
		<-copied
		_, logs := splitOutput(stdout.String(), stderr.String())
		if ctx.Err() != nil {
			return &sandbox.Result{Logs: logs}, ctx.Err()
		}
		return &sandbox.Result{Logs: logs}, &sandbox.TimeoutError{Timeout: timeout}
	case err := <-copied:
		if err != nil {
			return &sandbox.Result{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	value, logs := splitOutput(stdout.String(), stderr.String())
	res := &sandbox.Result{Value: value, Logs: logs}
	inspect, err := e.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return res, fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", inspect.ExitCode)
		}
		return res, errors.New(msg)
	}
	return res, nil
}

// Close removes the container and closes the client.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	id := e.containerID
	e.containerID = ""
	e.mu.Unlock()
	if id != "" {
		if err := e.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
			log.Warnf("failed to remove sandbox container %s: %v", id, err)
		}
	}
	return e.client.Close()
}

func command(language, code string) ([]string, error) {
	switch strings.ToLower(language) {
	case "", "python", "python3":
		return []string{"python3", "-c", code}, nil
	case "bash":
		return []string{"/bin/bash", "-c", code}, nil
	case "sh", "shell":
		return []string{"/bin/sh", "-c", code}, nil
	case "javascript", "js", "node":
		return []string{"node", "-e", code}, nil
	default:
		return nil, fmt.Errorf("unsupported language %q", language)
	}
}

func environment(vars map[string]any) ([]string, error) {
	if len(vars) == 0 {
		return []string{varsEnv + "={}"}, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode script variables: %w", err)
	}
	return []string{varsEnv + "=" + string(data)}, nil
}

// splitOutput treats a trailing JSON line on stdout as the result value. All
// other stdout lines, then stderr lines, are logs.
func splitOutput(stdout, stderr string) (any, []string) {
	lines := nonEmptyLines(stdout)
	var value any
	if n := len(lines); n > 0 {
		var v any
		if err := json.Unmarshal([]byte(lines[n-1]), &v); err == nil {
			value = v
			lines = lines[:n-1]
		}
	}
	return value, append(lines, nonEmptyLines(stderr)...)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r"); strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
