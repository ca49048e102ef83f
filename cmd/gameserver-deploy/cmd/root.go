package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/gameserver-deploy/internal/config"
	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
	"github.com/oshokin/gameserver-deploy/internal/service/installer"
	"github.com/oshokin/gameserver-deploy/internal/version"
)

// Exit statuses of the CLI.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// Viper keys that are not flags.
const (
	tokenKey    = "token"
	logLevelKey = "log-level"
)

// envPrefix prefixes environment overrides of flags, e.g. GAMESERVER_DEPLOY_WORKDIR.
const envPrefix = "GAMESERVER_DEPLOY"

// errUsage marks command line mistakes.
var errUsage = errors.New("usage error")

var (
	// settings layers flags, environment and defaults.
	settings = viper.New()

	// rootCmd represents the base command that deploys a release.
	rootCmd = &cobra.Command{
		Use:   `gameserver-deploy [flags] <version or "latest">`,
		Short: "Download a game server release and switch it online",
		Long: `Downloads a release of the game server from GitHub, unpacks it next to the
running version, copies its env file, runs static migrations, the sync
subcommand and schema migrations, then points the online symlink at it.

A non-zero exit of the migration tool or of sync aborts the deployment before
the online symlink is switched. Pass --ignore-exit-status to log such failures
and carry on, as the older shell deployment did.

GITHUB_PAT must be set, either in the environment or in the online env file.`,
		Example: `  gameserver-deploy latest
  gameserver-deploy v1.8.5
  gameserver-deploy -v latest`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: there should be one positional argument", errUsage)
			}

			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			configureLogging(ctx)

			cfg, err := loadConfig()
			if err != nil {
				logger.ErrorKV(ctx, "Invalid configuration", "error", err)

				return err
			}

			options := &installer.Options{
				Config:        cfg,
				Version:       args[0],
				Dump:          settings.GetBool("dump"),
				ManageService: settings.GetBool("manage-service"),
				ManageProxy:   settings.GetBool("manage-proxy"),
				SkipDBCheck:   settings.GetBool("skip-db-check"),

				IgnoreExitStatus: settings.GetBool("ignore-exit-status"),
			}

			if settings.GetBool("yes") {
				options.Decider = common.UnattendedDecider{}
			}

			return installer.Run(ctx, options)
		},
	}
)

// Execute runs the gameserver-deploy CLI and exits with the status matching the outcome.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(initConfigCmd)

	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps run errors to process exit statuses.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, installer.ErrAborted):
		return exitOK
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, rootCmd.UsageString())

		return exitUsage
	case errors.Is(err, installer.ErrMissingToken):
		return exitUsage
	default:
		return exitFailure
	}
}

// configureLogging applies LOGLEVEL, then -v.
func configureLogging(ctx context.Context) {
	if value := settings.GetString(logLevelKey); value != "" {
		level, ok := logger.ParseLogLevel(value)
		if !ok {
			logger.WarnKV(ctx, "Unknown log level, keeping the default", "value", value)
		} else {
			logger.SetLevel(level)
		}
	}

	if settings.GetBool("verbose") {
		logger.SetLevel(zapcore.DebugLevel)
	}
}

// loadConfig reads the settings file and layers flag and environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(settings.GetString("config"))
	if err != nil {
		return nil, err
	}

	if workDir := settings.GetString("workdir"); workDir != "" {
		cfg.WorkDir = workDir
	}

	if signingKey := settings.GetString("signing-key"); signingKey != "" {
		cfg.SigningKey = signingKey
	}

	cfg.Token = settings.GetString(tokenKey)

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.Flags()
	flags.BoolP("verbose", "v", false, "print more logs")
	flags.StringP("config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringP("workdir", "w", "", "directory holding release directories and the online symlink")
	flags.BoolP("yes", "y", false, "answer every question with yes")
	flags.Bool("dump", false, "offer a database dump before schema migrations")
	flags.Bool("manage-service", false, "stop the game server unit before migrating and start it afterwards")
	flags.Bool("manage-proxy", false, "stop nginx before migrating and start it afterwards")
	flags.Bool("skip-db-check", false, "do not check database connectivity before migrating")
	flags.Bool("ignore-exit-status", false, "log a failed migration or sync and continue instead of aborting")
	flags.String("signing-key", "", "armored OpenPGP public key used to verify the release asset")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	if err := settings.BindPFlags(flags); err != nil {
		panic(err)
	}

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	// Well-known variables keep their historical names.
	_ = settings.BindEnv(tokenKey, config.TokenVariable)
	_ = settings.BindEnv(logLevelKey, config.LogLevelVariable)
}
