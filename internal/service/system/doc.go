// Package system controls host services around a deployment: the game server
// systemd unit and the nginx reverse proxy.
package system
