package deploy

import "time"

// Release describes a published release of the game server.
type Release struct {
	// ID is the numeric release identifier assigned by the hosting API.
	ID int64
	// Tag is the git tag the release was cut from, e.g. "v1.8.5".
	Tag string
	// PublishedAt is when the release was published; zero for drafts.
	PublishedAt time.Time
	// Assets lists the files attached to the release in API order.
	Assets []Asset
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	// ID is the numeric asset identifier used for downloads.
	ID int64
	// Name is the file name, e.g. "gameserver-v1.8.5.tar.gz".
	Name string
	// URL is the API URL of the asset.
	URL string
	// Size is the declared content length in bytes.
	Size int64
	// Checksum is the expected SHA-256 digest, when the release publishes one.
	Checksum []byte
	// SignatureID is the ID of a detached ".asc" signature asset, or zero.
	SignatureID int64
}

// FindAsset returns the asset with the given name, if attached to the release.
func (r *Release) FindAsset(name string) (Asset, bool) {
	for _, asset := range r.Assets {
		if asset.Name == name {
			return asset, true
		}
	}

	return Asset{}, false
}
