// Package release talks to the GitHub Releases API: it resolves "latest" or an
// explicit tag to a release, picks the deployable asset with its optional
// checksum and signature siblings, and streams asset downloads.
package release
