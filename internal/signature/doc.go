// Package signature verifies detached OpenPGP signatures of release assets.
package signature
