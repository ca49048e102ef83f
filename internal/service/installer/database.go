package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/oshokin/gameserver-deploy/internal/database"
	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

// syncSubcommand reconciles static game data shipped with a release.
const syncSubcommand = "sync"

// preflight makes sure the database accepts connections before anything is migrated.
func (r *runner) preflight(ctx context.Context) error {
	params := r.cfg.Database

	if err := r.opts.Ping(ctx, params, r.cfg.Timeout); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Database is reachable", "host", params.Host, "port", params.Port, "database", params.Name)

	return nil
}

// staticMigrations applies the static data migrations of the new version.
func (r *runner) staticMigrations(ctx context.Context, versionDir string) error {
	decision, err := r.ask(ctx, staticMigrationsGate())
	if err != nil {
		return err
	}

	if decision != deploy.Proceed {
		logger.Info(ctx, "Skipping static migrations")

		return nil
	}

	return r.migrate(ctx, versionDir, database.StaticMigration)
}

// schemaMigrations optionally dumps the database and applies schema migrations.
func (r *runner) schemaMigrations(ctx context.Context, versionDir string) error {
	decision, err := r.ask(ctx, migrationsGate())
	if err != nil {
		return err
	}

	if decision != deploy.Proceed {
		logger.Info(ctx, "Skipping migrations")

		return nil
	}

	if r.opts.Dump {
		if err = r.dump(ctx); err != nil {
			return err
		}
	}

	return r.migrate(ctx, versionDir, database.SchemaMigration)
}

// dump takes a compressed database dump unless the operator skips it.
func (r *runner) dump(ctx context.Context) error {
	decision, err := r.ask(ctx, skipDumpGate())
	if err != nil {
		return err
	}

	if decision != deploy.Proceed {
		logger.Info(ctx, "Skipping database dump")

		return nil
	}

	logger.Info(ctx, "Starting database dump")

	_, err = database.Dump(ctx, r.commands, r.cfg.Database, &database.DumpOptions{
		Dir:     r.cfg.DumpDir,
		Package: r.cfg.Package,
		User:    r.cfg.DumpUser,
		MinSize: r.cfg.MinDumpSize,
		Env:     r.cfg.Environ(),
		Now:     r.opts.Now(),
		Stderr:  r.opts.Stderr,
	})

	return err
}

// migrate runs the release's migration tool for one migration history.
func (r *runner) migrate(ctx context.Context, versionDir string, migration database.Migration) error {
	cmd := database.MigrateCommand(versionDir, r.cfg.Database, migration)
	cmd.Env = r.cfg.Environ()
	cmd.Stdout = r.opts.Stdout
	cmd.Stderr = r.opts.Stderr

	logger.InfoKV(ctx, "Running migrations", "migration", migration.Name, "command", cmd.String())

	if err := r.tolerate(ctx, r.commands.Run(ctx, cmd)); err != nil {
		return fmt.Errorf("%s migrations: %w", migration.Name, err)
	}

	logger.InfoKV(ctx, "Migrations applied", "migration", migration.Name)

	return nil
}

// sync runs the new binary's sync subcommand and prints its output once it exits.
func (r *runner) sync(ctx context.Context, versionDir string) error {
	var stdout, stderr bytes.Buffer

	cmd := syncCommand(r.cfg.Package, versionDir, r.cfg.Database)
	cmd.Env = r.cfg.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.InfoKV(ctx, "Running sync", "command", cmd.String())

	err := r.commands.Run(ctx, cmd)

	_, _ = r.opts.Stdout.Write(stdout.Bytes())
	_, _ = r.opts.Stdout.Write(stderr.Bytes())

	if err = r.tolerate(ctx, err); err != nil {
		return err
	}

	logger.Info(ctx, "Sync finished")

	return nil
}

// tolerate turns a non-zero exit into a warning when exit statuses are ignored.
// Failures to start the command are always returned.
func (r *runner) tolerate(ctx context.Context, err error) error {
	if err == nil || !r.opts.IgnoreExitStatus || !errors.Is(err, common.ErrCommandFailed) {
		return err
	}

	logger.WarnKV(ctx, "Ignoring exit status", "error", err)

	return nil
}

// syncCommand builds "<dir>/<package> sync --database_*=... --static_path <dir>/static/".
func syncCommand(pkg, versionDir string, params database.Params) *common.Command {
	return &common.Command{
		Name: filepath.Join(versionDir, pkg),
		Args: []string{
			syncSubcommand,
			"--database_user=" + params.User,
			"--database_pass=" + params.Password,
			"--database_host=" + params.Host,
			"--database_port=" + params.Port,
			"--database_name=" + params.Name,
			"--static_path", filepath.Join(versionDir, "static") + string(filepath.Separator),
		},
		Secrets: params.Secrets(),
	}
}
