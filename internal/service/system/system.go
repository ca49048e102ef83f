package system

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

const (
	// systemctl controls systemd units.
	systemctl = "systemctl"
	// nginx is the reverse proxy in front of the game server.
	nginx = "nginx"
)

// Manager stops and starts the game server unit and the reverse proxy using
// the stock systemd and nginx command line tools.
type Manager struct {
	// runner executes the tools.
	runner common.Runner
	// env is the environment passed to the tools.
	env []string
}

// NewManager creates a Manager executing commands through runner.
func NewManager(runner common.Runner, env []string) *Manager {
	return &Manager{
		runner: runner,
		env:    env,
	}
}

// StopService stops a systemd unit.
func (m *Manager) StopService(ctx context.Context, unit string) error {
	logger.InfoKV(ctx, "Stopping service", "unit", unit)

	return m.run(ctx, systemctl, "stop", unit)
}

// StartService reloads unit files and starts a systemd unit.
func (m *Manager) StartService(ctx context.Context, unit string) error {
	if err := m.run(ctx, systemctl, "daemon-reload"); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Starting service", "unit", unit)

	return m.run(ctx, systemctl, "start", unit)
}

// StopProxy stops nginx so no new player connections reach the server.
func (m *Manager) StopProxy(ctx context.Context) error {
	logger.Info(ctx, "Stopping nginx")

	return m.run(ctx, nginx, "-s", "stop")
}

// StartProxy validates the nginx configuration and starts it again.
func (m *Manager) StartProxy(ctx context.Context) error {
	if err := m.run(ctx, nginx, "-t"); err != nil {
		return fmt.Errorf("nginx configuration test: %w", err)
	}

	logger.Info(ctx, "Starting nginx")

	return m.run(ctx, systemctl, "start", nginx)
}

// run executes a tool and includes its combined output in the error.
func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	var output bytes.Buffer

	cmd := &common.Command{
		Name:   name,
		Args:   args,
		Env:    m.env,
		Stdout: &output,
		Stderr: &output,
	}

	if err := m.runner.Run(ctx, cmd); err != nil {
		if text := bytes.TrimSpace(output.Bytes()); len(text) > 0 {
			return fmt.Errorf("%s: %w: %s", cmd.String(), err, text)
		}

		return fmt.Errorf("%s: %w", cmd.String(), err)
	}

	return nil
}

// FindRunning returns the PIDs of processes whose executable name is
// executable, excluding the current process.
func FindRunning(executable string) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	var pids []int

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != executable {
			continue
		}

		pids = append(pids, process.Pid())
	}

	return pids, nil
}
