package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oshokin/gameserver-deploy/internal/config"
	"github.com/oshokin/gameserver-deploy/internal/database"
	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/repository/release"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
	"github.com/oshokin/gameserver-deploy/internal/service/system"
	"github.com/oshokin/gameserver-deploy/internal/signature"
	"github.com/oshokin/gameserver-deploy/internal/version"
)

var (
	// ErrAborted marks a run the operator ended at the extraction prompt. It is not a failure.
	ErrAborted = errors.New("deployment aborted by operator")
	// ErrMissingToken is returned when no GitHub access token is available.
	ErrMissingToken = errors.New("GITHUB_PAT is not set")
	// ErrUnsupportedArchive is returned when the release asset is not a .tar.gz archive.
	ErrUnsupportedArchive = errors.New("unsupported archive format")

	errConfigIsNotSet  = errors.New("configuration is not set")
	errVersionRequired = errors.New("version is required")
)

// ReleaseSource resolves releases and streams their assets.
type ReleaseSource interface {
	Resolve(ctx context.Context, version string) (*deploy.Release, error)
	PrimaryAsset(ctx context.Context, release *deploy.Release) (deploy.Asset, error)
	Open(ctx context.Context, assetID int64) (io.ReadCloser, error)
	Fetch(ctx context.Context, assetID int64) ([]byte, error)
}

// PingFunc checks that the database accepts connections.
type PingFunc func(ctx context.Context, params database.Params, timeout time.Duration) error

// Options are inputs accepted by the installer entry point.
type Options struct {
	// Config is the validated run configuration. It is copied, never modified.
	Config *config.Config
	// Version is a release tag or release.LatestVersion.
	Version string
	// Dump offers a database dump before schema migrations.
	Dump bool
	// ManageService stops the game server unit before migrating and starts it afterwards.
	ManageService bool
	// ManageProxy drains nginx before migrating and starts it afterwards.
	ManageProxy bool
	// SkipDBCheck disables the database connectivity preflight.
	SkipDBCheck bool
	// IgnoreExitStatus logs a non-zero exit of the migration tool or sync
	// instead of aborting the run.
	IgnoreExitStatus bool

	// Releases overrides the GitHub release client.
	Releases ReleaseSource
	// Runner overrides the subprocess runner.
	Runner common.Runner
	// Decider answers gates; nil prompts on Stdin and Stdout.
	Decider common.Decider
	// Ping overrides the database preflight.
	Ping PingFunc
	// Stdin is read by the default prompt decider.
	Stdin io.Reader
	// Stdout receives prompts and child process output.
	Stdout io.Writer
	// Stderr receives download progress and child process errors.
	Stderr io.Writer
	// Now overrides the clock used for dump file names.
	Now func() time.Time
}

// runner holds the state of a single deployment.
// It is unexported; call Run(ctx, Options) from callers.
type runner struct {
	cfg      *config.Config      // Private copy of the configuration with the env file applied.
	opts     *Options            // Caller options with defaults applied.
	releases ReleaseSource       // Release API client.
	commands common.Runner       // Subprocess runner.
	decider  common.Decider      // Gate answers.
	system   *system.Manager     // Service and proxy control.
	verifier *signature.Verifier // Present when a signing key is configured.
}

// stage is a single step of the pipeline.
type stage struct {
	name    string
	enabled bool
	run     func(ctx context.Context) error
}

// Run executes the deployment pipeline and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "gameserver-deploy")

	r, err := newRunner(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Installer setup failed", "error", err)

		return err
	}

	ctx = logger.WithKV(ctx, "version", opts.Version)

	if err = r.Run(ctx); err != nil {
		if errors.Is(err, ErrAborted) {
			logger.Info(ctx, "Exiting")

			return err
		}

		logger.ErrorKV(ctx, "Installer run failed", "error", err)

		return err
	}

	logger.Info(ctx, "Installer completed")

	return nil
}

// newRunner loads the package env file, checks the token and builds collaborators.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if opts == nil || opts.Config == nil {
		return nil, errConfigIsNotSet
	}

	if opts.Version == "" {
		return nil, errVersionRequired
	}

	o := *opts
	cfg := *opts.Config

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}

	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}

	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Ping == nil {
		o.Ping = database.Ping
	}

	r := &runner{
		cfg:      &cfg,
		opts:     &o,
		releases: o.Releases,
		commands: o.Runner,
		decider:  o.Decider,
	}

	if err := r.loadEnv(ctx); err != nil {
		return nil, err
	}

	if r.cfg.Token == "" {
		if token, ok := r.cfg.Lookup(config.TokenVariable); ok {
			r.cfg.Token = token
		}
	}

	if r.cfg.Token == "" {
		return nil, ErrMissingToken
	}

	if r.commands == nil {
		r.commands = common.NewExecRunner()
	}

	if r.decider == nil {
		r.decider = common.NewPromptDecider(o.Stdin, o.Stdout)
	}

	if r.releases == nil {
		owner, name := r.cfg.RepositoryParts()

		client, err := release.NewGitHubRepository(owner, name,
			release.WithBaseURL(r.cfg.APIURL),
			release.WithToken(r.cfg.Token),
			release.WithUserAgent(version.UserAgent()))
		if err != nil {
			return nil, err
		}

		r.releases = client
	}

	if r.cfg.SigningKey != "" {
		verifier, err := signature.LoadKeyRing(r.cfg.SigningKey)
		if err != nil {
			return nil, err
		}

		r.verifier = verifier
	}

	r.system = system.NewManager(r.commands, r.cfg.Environ())

	return r, nil
}

// loadEnv reads the online version's env file and derives database parameters.
func (r *runner) loadEnv(ctx context.Context) error {
	path := r.cfg.EnvFile()

	env, err := config.LoadEnvFile(path)
	if err != nil {
		return err
	}

	if err = r.cfg.ApplyEnv(env); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Loaded env vars", "path", path, "count", len(env))

	return nil
}

// Run executes the stages in order and stops at the first failure.
func (r *runner) Run(ctx context.Context) error {
	if actor, err := common.DetectActor(); err == nil {
		logger.InfoKV(ctx, "Starting deployment",
			"version", r.opts.Version,
			"repository", r.cfg.Repository,
			"host", actor.Hostname,
			"user", actor.Username)
	}

	var (
		archivePath string
		versionDir  string
	)

	stages := []stage{
		{name: "download", enabled: true, run: func(ctx context.Context) (err error) {
			archivePath, err = r.download(ctx)

			return err
		}},
		{name: "extract", enabled: true, run: func(ctx context.Context) (err error) {
			versionDir, err = r.extract(ctx, archivePath)

			return err
		}},
		{name: "configure", enabled: true, run: func(ctx context.Context) error {
			return r.copyEnv(ctx, versionDir)
		}},
		{name: "drain proxy", enabled: r.opts.ManageProxy, run: r.stopProxy},
		{name: "stop service", enabled: r.opts.ManageService, run: r.stopService},
		{name: "database preflight", enabled: !r.opts.SkipDBCheck, run: r.preflight},
		{name: "static migrations", enabled: true, run: func(ctx context.Context) error {
			return r.staticMigrations(ctx, versionDir)
		}},
		{name: "sync", enabled: true, run: func(ctx context.Context) error {
			return r.sync(ctx, versionDir)
		}},
		{name: "migrations", enabled: true, run: func(ctx context.Context) error {
			return r.schemaMigrations(ctx, versionDir)
		}},
		{name: "switch version", enabled: true, run: func(ctx context.Context) error {
			return r.switchVersion(ctx, versionDir)
		}},
		{name: "ownership", enabled: true, run: r.fixOwnership},
		{name: "start service", enabled: r.opts.ManageService, run: r.startService},
		{name: "start proxy", enabled: r.opts.ManageProxy, run: r.startProxy},
	}

	for _, s := range stages {
		if !s.enabled {
			logger.DebugKV(ctx, "Stage disabled", "stage", s.name)

			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		stageCtx := logger.WithKV(ctx, "stage", s.name)

		logger.DebugKV(stageCtx, "Stage started")

		if err := s.run(stageCtx); err != nil {
			if errors.Is(err, ErrAborted) {
				return err
			}

			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	return nil
}

// ask consults the decider and logs the outcome.
func (r *runner) ask(ctx context.Context, gate *common.Gate) (deploy.Decision, error) {
	decision, err := r.decider.Decide(ctx, gate)
	if err != nil {
		return deploy.Abort, err
	}

	logger.DebugKV(ctx, "Gate decided", "question", gate.Question, "decision", decision.String())

	return decision, nil
}
