// Package common holds helpers shared by the deployment stages.
//
// Commands run from explicit argument lists and render with secrets masked.
// Operator confirmations are modeled as gates answered by a Decider.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
