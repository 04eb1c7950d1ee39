package simulator

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/spachava753/simeval/internal/models"
)

// removeTimeout bounds the container cleanup after an instance closes.
const removeTimeout = 30 * time.Second

// DockerProvider runs one simulator container per instance. The image's
// entrypoint must speak the stdio protocol on stdin/stdout.
type DockerProvider struct {
	binary string
	image  string
	args   []string
	env    map[string]string
	cpus   string
	memory string
}

// NewDockerProvider creates a provider for cfg.Image.
func NewDockerProvider(cfg models.SimulatorConfig) *DockerProvider {
	binary := cfg.Command
	if binary == "" {
		binary = "docker"
	}
	return &DockerProvider{
		binary: binary,
		image:  cfg.Image,
		args:   cfg.Args,
		env:    cfg.Env,
		cpus:   cfg.CPUs,
		memory: cfg.Memory,
	}
}

// Name returns the provider name.
func (p *DockerProvider) Name() string {
	return "docker"
}

// NewInstance starts a container attached to stdin/stdout.
func (p *DockerProvider) NewInstance(ctx context.Context, workerID int) (Instance, error) {
	containerID := fmt.Sprintf("simeval-w%d-%d", workerID, time.Now().UnixNano())

	cmd := exec.Command(p.binary, p.runArgs(containerID, workerID)...)
	inst, err := startProcess(cmd)
	if err != nil {
		return nil, err
	}
	inst.onExit = func() error {
		return p.removeContainer(containerID)
	}
	return inst, nil
}

func (p *DockerProvider) runArgs(containerID string, workerID int) []string {
	args := []string{
		"run",
		"--rm",
		"-i",
		"--name", containerID,
	}

	// Add resource constraints
	if p.cpus != "" {
		args = append(args, "--cpus", p.cpus)
	}
	if p.memory != "" {
		args = append(args, "--memory", p.memory)
	}

	// Add environment variables in a stable order
	for _, k := range slices.Sorted(maps.Keys(p.env)) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, p.env[k]))
	}
	args = append(args, "-e", workerEnv(workerID))

	args = append(args, p.image)
	return append(args, p.args...)
}

// removeContainer force removes the container in case --rm did not run,
// e.g. when the container was killed mid-step.
func (p *DockerProvider) removeContainer(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "rm", "-f", containerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Ignore error if container already removed
		msg := stderr.String()
		if !strings.Contains(msg, "No such container") && !strings.Contains(msg, "already in progress") {
			return fmt.Errorf("removing container %s: %w: %s", containerID, err, strings.TrimSpace(msg))
		}
	}
	return nil
}
