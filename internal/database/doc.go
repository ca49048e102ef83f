// Package database covers everything the installer does against PostgreSQL
// without owning any schema: connection URL rendering, a connectivity preflight,
// compressed pg_dump backups with a size sanity check, and the command lines of
// the release's migration tool.
package database
