package database

import (
	"net/url"
	"path/filepath"

	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

// migrateBinary is the migration tool shipped inside every release.
const migrateBinary = "migrate"

// Migration selects a migration history inside the same database.
type Migration struct {
	// Name is used in logs and gate questions.
	Name string
	// Dir is the migrations directory relative to the version directory.
	Dir string
	// Table overrides the migrations table; empty keeps the tool default.
	Table string
	// ApplicationName is reported to PostgreSQL for the migration session.
	ApplicationName string
}

var (
	// StaticMigration applies seed and reference data, tracked in its own table.
	//nolint:gochecknoglobals // Read-only migration descriptors.
	StaticMigration = Migration{
		Name:            "static",
		Dir:             "static-migrations",
		Table:           "static_migrations",
		ApplicationName: "migrate-static",
	}

	// SchemaMigration applies the main schema history.
	//nolint:gochecknoglobals // Read-only migration descriptors.
	SchemaMigration = Migration{
		Name:            "schema",
		Dir:             "migrations",
		ApplicationName: "migrate",
	}
)

// MigrateCommand builds "<versionDir>/migrate -database <url> -path <versionDir>/<dir> up".
func MigrateCommand(versionDir string, params Params, migration Migration) *common.Command {
	query := url.Values{"application_name": {migration.ApplicationName}}
	if migration.Table != "" {
		query.Set("x-migrations-table", migration.Table)
	}

	return &common.Command{
		Name: filepath.Join(versionDir, migrateBinary),
		Args: []string{
			"-database", params.URL(query),
			"-path", filepath.Join(versionDir, migration.Dir),
			"up",
		},
		Secrets: params.Secrets(),
	}
}
