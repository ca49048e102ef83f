package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/oshokin/gameserver-deploy/internal/database"
)

// Database variable suffixes appended to "<EnvPrefix>_".
const (
	databaseNameSuffix = "DATABASE_NAME"
	databaseHostSuffix = "DATABASE_HOST"
	databasePortSuffix = "DATABASE_PORT"
	databaseUserSuffix = "DATABASE_USER"
	databasePassSuffix = "DATABASE_PASS"
)

// ErrMissingVariables is returned when required env file variables are not set.
var ErrMissingVariables = errors.New("required variables are not set")

// LoadEnvFile parses a dotenv-style file. Comments, blank lines, `export`
// prefixes and surrounding quotes are handled by gotenv.
func LoadEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	env, err := gotenv.StrictParse(file)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}

	return env, nil
}

// Lookup returns a value from the env file, falling back to the process environment.
func (c *Config) Lookup(key string) (string, bool) {
	if value, ok := c.Env[key]; ok {
		return value, true
	}

	return os.LookupEnv(key)
}

// ApplyEnv stores the loaded env file and derives database parameters from it.
// Every database variable must be present either in the file or in the process environment.
func (c *Config) ApplyEnv(env map[string]string) error {
	c.Env = env

	var (
		missing []string
		params  database.Params
	)

	targets := map[string]*string{
		databaseNameSuffix: &params.Name,
		databaseHostSuffix: &params.Host,
		databasePortSuffix: &params.Port,
		databaseUserSuffix: &params.User,
		databasePassSuffix: &params.Password,
	}

	for suffix, target := range targets {
		key := c.EnvPrefix + "_" + suffix

		value, ok := c.Lookup(key)
		if !ok {
			missing = append(missing, key)
			continue
		}

		*target = value
	}

	if len(missing) > 0 {
		slices.Sort(missing)

		return fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrMissingVariables)
	}

	c.Database = params

	return nil
}

// Environ returns the process environment extended with the env file variables,
// for passing to child processes.
func (c *Config) Environ() []string {
	result := os.Environ()

	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	for _, key := range keys {
		result = append(result, key+"="+c.Env[key])
	}

	return result
}
