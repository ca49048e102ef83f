// Package integration holds end-to-end deployment tests against a stubbed
// GitHub API, real release archives and real child processes.
package integration
