package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/gameserver-deploy/internal/database"
)

// Config holds everything a single deployment run needs.
// It is assembled once by the CLI and then only read by the stages.
type Config struct {
	// Repository is the GitHub repository publishing releases, in "owner/name" form.
	Repository string `yaml:"repository"`
	// APIURL is the base URL of the GitHub REST API.
	APIURL string `yaml:"api_url"`
	// BaseDir is the installation root on the host.
	BaseDir string `yaml:"base_dir"`
	// WorkDir is where archives are downloaded and extracted and where the
	// online symlink lives. Relative values are resolved against the current directory.
	WorkDir string `yaml:"work_dir"`
	// Package is the name of the deployed binary, service and system user.
	Package string `yaml:"package"`
	// EnvPrefix prefixes the database variables in the package env file.
	EnvPrefix string `yaml:"env_prefix"`
	// Owner is the "user:group" pair the work tree is chowned to.
	Owner string `yaml:"owner"`
	// DumpUser is the role pg_dump connects as.
	DumpUser string `yaml:"dump_user"`
	// DumpDir is where compressed database dumps are written.
	DumpDir string `yaml:"dump_dir"`
	// MinDumpSize is the size in bytes a plausible dump must exceed.
	MinDumpSize int64 `yaml:"min_dump_size"`
	// Timeout bounds API metadata calls and the database preflight.
	Timeout time.Duration `yaml:"timeout"`
	// SigningKey is an optional armored OpenPGP public key file used to verify release assets.
	SigningKey string `yaml:"signing_key"`

	// Token is the GitHub access token. It is never persisted.
	Token string `yaml:"-"`
	// Database holds connection parameters read from the package env file.
	Database database.Params `yaml:"-"`
	// Env contains every variable loaded from the package env file.
	Env map[string]string `yaml:"-"`
}

const (
	// DefaultConfigFilename is the default filename for installer settings.
	DefaultConfigFilename = "gameserver-deploy.yaml"

	// DefaultRepository is the repository releases are fetched from.
	DefaultRepository = "ninja-syndicate/supremacy-server"

	// DefaultAPIURL is the public GitHub REST API endpoint.
	DefaultAPIURL = "https://api.github.com/"

	// DefaultBaseDir is the installation root on deployment hosts.
	DefaultBaseDir = "/usr/share/ninja_syndicate"

	// DefaultPackage is the deployed binary and service name.
	DefaultPackage = "gameserver"

	// DefaultEnvPrefix prefixes database variables in the package env file.
	DefaultEnvPrefix = "GAMESERVER"

	// DefaultDumpUser is the role used by pg_dump.
	DefaultDumpUser = "postgres"

	// DefaultMinDumpSize is the compressed dump size, in bytes, a real dump always exceeds.
	DefaultMinDumpSize = 50_000

	// DefaultTimeout is the default duration for API metadata calls and the database preflight.
	DefaultTimeout = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// TokenVariable is the environment variable holding the GitHub token.
	TokenVariable = "GITHUB_PAT"

	// LogLevelVariable is the environment variable overriding the log level.
	LogLevelVariable = "LOGLEVEL"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidRepository is returned when the repository is not in "owner/name" form.
	errInvalidRepository = errors.New(`repository must be in "owner/name" form`)
	// errPackageRequired is returned when the package name is missing.
	errPackageRequired = errors.New("package name must be provided")
	// errInvalidOwner is returned when the owner is not in "user[:group]" form.
	errInvalidOwner = errors.New(`owner must be in "user[:group]" form`)
)

// Default returns the settings used when no settings file exists.
func Default() *Config {
	return &Config{
		Repository:  DefaultRepository,
		APIURL:      DefaultAPIURL,
		BaseDir:     DefaultBaseDir,
		WorkDir:     ".",
		Package:     DefaultPackage,
		EnvPrefix:   DefaultEnvPrefix,
		DumpUser:    DefaultDumpUser,
		MinDumpSize: DefaultMinDumpSize,
		Timeout:     DefaultTimeout,
	}
}

// Load reads settings from the provided path on top of the defaults and validates them.
// A missing file at the default location is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	explicit := path != "" && path != DefaultConfigFilename
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills derived defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	owner, name, ok := strings.Cut(settings.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%q: %w", settings.Repository, errInvalidRepository)
	}

	if settings.Package == "" {
		return errPackageRequired
	}

	if settings.APIURL == "" {
		settings.APIURL = DefaultAPIURL
	}

	if _, err := url.ParseRequestURI(settings.APIURL); err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}

	// The GitHub client requires a trailing slash on its base URL.
	if !strings.HasSuffix(settings.APIURL, "/") {
		settings.APIURL += "/"
	}

	if settings.EnvPrefix == "" {
		settings.EnvPrefix = strings.ToUpper(settings.Package)
	}

	if settings.WorkDir == "" {
		settings.WorkDir = "."
	}

	if settings.BaseDir == "" {
		settings.BaseDir = DefaultBaseDir
	}

	if settings.Owner == "" {
		settings.Owner = settings.Package + ":" + settings.Package
	}

	if user, group, _ := strings.Cut(settings.Owner, ":"); user == "" || strings.Contains(group, ":") {
		return fmt.Errorf("%q: %w", settings.Owner, errInvalidOwner)
	}

	if settings.DumpUser == "" {
		settings.DumpUser = DefaultDumpUser
	}

	if settings.DumpDir == "" {
		settings.DumpDir = filepath.Join(settings.BaseDir, settings.OnlineName(), "db_copy")
	}

	if settings.MinDumpSize <= 0 {
		settings.MinDumpSize = DefaultMinDumpSize
	}

	// Set default timeout if not specified.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	return nil
}

// RepositoryParts splits Repository into owner and name.
func (c *Config) RepositoryParts() (owner, name string) {
	owner, name, _ = strings.Cut(c.Repository, "/")

	return owner, name
}

// OnlineName is the base name of the symlink designating the live version.
func (c *Config) OnlineName() string {
	return c.Package + "_online"
}

// OnlinePath is the absolute-or-relative path of the online symlink inside WorkDir.
func (c *Config) OnlinePath() string {
	return filepath.Join(c.WorkDir, c.OnlineName())
}

// EnvFileIn returns the package env file location inside a version directory.
func (c *Config) EnvFileIn(versionDir string) string {
	return filepath.Join(versionDir, "init", c.Package+".env")
}

// EnvFile returns the env file of the currently online version.
func (c *Config) EnvFile() string {
	return c.EnvFileIn(c.OnlinePath())
}
