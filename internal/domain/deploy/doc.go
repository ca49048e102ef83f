// Package deploy holds the few values passed between deployment stages:
// release and asset metadata, gate decisions and the operator identity.
package deploy
