// Package config defines the installer settings and provides helpers to load,
// validate and save them in YAML format.
//
// It also parses the package env file of the online version, which supplies
// database connection parameters to the migration, dump and sync stages.
package config
