package release

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v61/github"
	"golang.org/x/mod/semver"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
)

const (
	// LatestVersion is the version argument selecting the most recent release.
	LatestVersion = "latest"

	// checksumSuffix names the sibling asset carrying the SHA-256 digest.
	checksumSuffix = ".sha256"

	// signatureSuffix names the sibling asset carrying a detached OpenPGP signature.
	signatureSuffix = ".asc"

	// maxSidecarBytes bounds checksum and signature downloads.
	maxSidecarBytes = 64 << 10

	// sha256Size is the length of a SHA-256 digest in bytes.
	sha256Size = 32
)

var (
	// ErrNoReleases is returned when the repository has no releases at all.
	ErrNoReleases = errors.New("repository has no releases")
	// ErrNoAssets is returned when the selected release has no attached files.
	ErrNoAssets = errors.New("release has no assets")
	// ErrBadChecksum is returned when a checksum asset cannot be parsed.
	ErrBadChecksum = errors.New("malformed checksum asset")
)

// GitHubRepository resolves and downloads releases through the GitHub REST API.
type GitHubRepository struct {
	// client is the authenticated API client.
	client *github.Client
	// httpClient follows asset download redirects without API credentials.
	httpClient *http.Client
	// owner is the repository owner.
	owner string
	// name is the repository name.
	name string
}

// Option configures a GitHubRepository.
type Option func(*options)

// options collects construction parameters before the client is built.
type options struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// WithBaseURL overrides the API base URL (GitHub Enterprise or test servers).
func WithBaseURL(base string) Option {
	return func(o *options) {
		o.baseURL = base
	}
}

// WithToken authenticates every API request with a personal access token.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithHTTPClient sets the HTTP client used for API calls and downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// NewGitHubRepository creates a repository client for owner/name.
func NewGitHubRepository(owner, name string, opts ...Option) (*GitHubRepository, error) {
	o := &options{
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(o)
	}

	client := github.NewClient(o.httpClient)
	if o.token != "" {
		client = client.WithAuthToken(o.token)
	}

	if o.userAgent != "" {
		client.UserAgent = o.userAgent
	}

	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}

		baseURL, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse API base URL: %w", err)
		}

		client.BaseURL = baseURL
	}

	return &GitHubRepository{
		client:     client,
		httpClient: o.httpClient,
		owner:      owner,
		name:       name,
	}, nil
}

// Resolve returns the release for version: either LatestVersion or an explicit tag.
//
// For LatestVersion the releases list is requested first and the first entry's
// identifier is used to fetch the release detail. An explicit tag is fetched directly.
func (r *GitHubRepository) Resolve(ctx context.Context, version string) (*deploy.Release, error) {
	if version == LatestVersion {
		return r.resolveLatest(ctx)
	}

	if !semver.IsValid(version) {
		logger.WarnKV(ctx, "Release tag is not a semantic version", "tag", version)
	}

	logger.InfoKV(ctx, "Getting release metadata", "tag", version)

	gr, _, err := r.client.Repositories.GetReleaseByTag(ctx, r.owner, r.name, version)
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", version, err)
	}

	release := toRelease(gr)

	return &release, nil
}

// resolveLatest lists releases and fetches the detail of the first entry.
func (r *GitHubRepository) resolveLatest(ctx context.Context) (*deploy.Release, error) {
	logger.Info(ctx, "Getting releases metadata")

	list, _, err := r.client.Repositories.ListReleases(ctx, r.owner, r.name, nil)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", r.owner, r.name, ErrNoReleases)
	}

	first := toRelease(list[0])
	warnIfNotNewest(ctx, first, list[1:])

	logger.InfoKV(ctx, "Getting release metadata", "id", first.ID, "tag", first.Tag)

	gr, _, err := r.client.Repositories.GetRelease(ctx, r.owner, r.name, first.ID)
	if err != nil {
		return nil, fmt.Errorf("get release %d: %w", first.ID, err)
	}

	release := toRelease(gr)

	return &release, nil
}

// warnIfNotNewest logs when another listed release looks newer than the first one.
// The API documents no ordering guarantee for the list, so the assumption is checked.
func warnIfNotNewest(ctx context.Context, first deploy.Release, others []*github.RepositoryRelease) {
	for _, gr := range others {
		other := toRelease(gr)

		newerPublished := other.PublishedAt.After(first.PublishedAt)
		newerTag := semver.IsValid(first.Tag) && semver.IsValid(other.Tag) && semver.Compare(other.Tag, first.Tag) > 0

		if newerPublished || newerTag {
			logger.WarnKV(ctx, "First listed release may not be the newest",
				"first", first.Tag, "candidate", other.Tag, "candidate_id", other.ID)

			return
		}
	}
}

// PrimaryAsset returns the first asset of the release together with its
// checksum and signature siblings, when published.
func (r *GitHubRepository) PrimaryAsset(ctx context.Context, release *deploy.Release) (deploy.Asset, error) {
	if len(release.Assets) == 0 {
		return deploy.Asset{}, fmt.Errorf("%s: %w", release.Tag, ErrNoAssets)
	}

	asset := release.Assets[0]

	logger.DebugKV(ctx, "Selected asset", "id", asset.ID, "name", asset.Name, "url", asset.URL)

	if sibling, ok := release.FindAsset(asset.Name + checksumSuffix); ok {
		data, err := r.fetchSidecar(ctx, sibling.ID)
		if err != nil {
			return deploy.Asset{}, err
		}

		if asset.Checksum, err = parseChecksum(data, asset.Name); err != nil {
			return deploy.Asset{}, err
		}
	}

	if sibling, ok := release.FindAsset(asset.Name + signatureSuffix); ok {
		asset.SignatureID = sibling.ID
	}

	return asset, nil
}

// Open starts downloading an asset and returns its body. The caller closes it.
func (r *GitHubRepository) Open(ctx context.Context, assetID int64) (io.ReadCloser, error) {
	body, _, err := r.client.Repositories.DownloadReleaseAsset(ctx, r.owner, r.name, assetID, r.httpClient)
	if err != nil {
		return nil, fmt.Errorf("download asset %d: %w", assetID, err)
	}

	return body, nil
}

// Fetch downloads a small asset such as a signature fully into memory.
func (r *GitHubRepository) Fetch(ctx context.Context, assetID int64) ([]byte, error) {
	return r.fetchSidecar(ctx, assetID)
}

// fetchSidecar reads at most maxSidecarBytes of an asset.
func (r *GitHubRepository) fetchSidecar(ctx context.Context, assetID int64) ([]byte, error) {
	body, err := r.Open(ctx, assetID)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(body, maxSidecarBytes))
	if err != nil {
		return nil, fmt.Errorf("read asset %d: %w", assetID, err)
	}

	return data, nil
}

// parseChecksum accepts either a bare hex digest or sha256sum output and
// returns the digest for name.
func parseChecksum(data []byte, name string) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())

		var digest string

		switch {
		case len(fields) == 1:
			digest = fields[0]
		case len(fields) >= 2 && strings.TrimPrefix(fields[1], "*") == name:
			digest = fields[0]
		default:
			continue
		}

		sum, err := hex.DecodeString(digest)
		if err != nil || len(sum) != sha256Size {
			return nil, fmt.Errorf("%s: %w", name, ErrBadChecksum)
		}

		return sum, nil
	}

	return nil, fmt.Errorf("%s: no digest found: %w", name, ErrBadChecksum)
}

// toRelease converts the API representation into the domain type.
func toRelease(gr *github.RepositoryRelease) deploy.Release {
	assets := make([]deploy.Asset, 0, len(gr.Assets))
	for _, ga := range gr.Assets {
		assets = append(assets, deploy.Asset{
			ID:   ga.GetID(),
			Name: ga.GetName(),
			URL:  ga.GetURL(),
			Size: int64(ga.GetSize()),
		})
	}

	return deploy.Release{
		ID:          gr.GetID(),
		Tag:         gr.GetTagName(),
		PublishedAt: gr.GetPublishedAt().Time,
		Assets:      assets,
	}
}
