package installer

import (
	"context"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/service/system"
)

// stopProxy drains player connections by stopping nginx.
func (r *runner) stopProxy(ctx context.Context) error {
	decision, err := r.ask(ctx, drainProxyGate())
	if err != nil {
		return err
	}

	if decision != deploy.Proceed {
		logger.Info(ctx, "Skipping nginx stop")

		return nil
	}

	return r.system.StopProxy(ctx)
}

// startProxy checks the nginx configuration and starts it.
func (r *runner) startProxy(ctx context.Context) error {
	if err := r.system.StartProxy(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Finished starting nginx")

	return nil
}

// stopService stops the game server unit and reports processes that survived.
func (r *runner) stopService(ctx context.Context) error {
	if err := r.system.StopService(ctx, r.cfg.Package); err != nil {
		return err
	}

	pids, err := system.FindRunning(r.cfg.Package)
	if err != nil {
		logger.WarnKV(ctx, "Unable to list processes", "error", err)

		return nil
	}

	if len(pids) > 0 {
		logger.WarnKV(ctx, "Processes are still running after stop", "executable", r.cfg.Package, "pids", pids)
	}

	logger.InfoKV(ctx, "Stopped service", "unit", r.cfg.Package)

	return nil
}

// startService reloads systemd and starts the game server unit.
func (r *runner) startService(ctx context.Context) error {
	if err := r.system.StartService(ctx, r.cfg.Package); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Started service", "unit", r.cfg.Package)

	return nil
}
