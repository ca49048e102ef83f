// Package installer deploys a game server release: it downloads and unpacks
// the release archive, installs the env file, migrates and syncs the database,
// then switches the online symlink and fixes ownership.
//
// Every operator question is a common.Gate answered by a common.Decider, so the
// pipeline runs the same with a terminal prompt, unattended or in tests.
package installer
