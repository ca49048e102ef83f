package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
)

// fakeAPI is a minimal GitHub Releases API recording request paths.
type fakeAPI struct {
	mu       sync.Mutex
	paths    []string
	releases []map[string]any
	assets   map[int64][]byte
	token    string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	switch {
	case r.URL.Path == "/repos/acme/game/releases":
		writeJSON(w, f.releases)

		return
	case r.URL.Path == "/repos/acme/game/releases/tags/v1.2.0":
		writeJSON(w, f.releases[0])

		return
	}

	for _, release := range f.releases {
		if r.URL.Path == fmt.Sprintf("/repos/acme/game/releases/%v", release["id"]) {
			writeJSON(w, release)

			return
		}
	}

	for id, body := range f.assets {
		if r.URL.Path == fmt.Sprintf("/repos/acme/game/releases/assets/%d", id) {
			if r.Header.Get("Accept") != "application/octet-stream" {
				w.WriteHeader(http.StatusNotAcceptable)

				return
			}

			_, _ = w.Write(body)

			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeAPI) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.paths...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newRelease(id int64, tag, published string, assets ...map[string]any) map[string]any {
	return map[string]any{
		"id":           id,
		"tag_name":     tag,
		"published_at": published,
		"assets":       assets,
	}
}

func newAsset(id int64, name string, size int) map[string]any {
	return map[string]any{
		"id":   id,
		"name": name,
		"url":  fmt.Sprintf("https://api.example/repos/acme/game/releases/assets/%d", id),
		"size": size,
	}
}

func newTestRepository(t *testing.T, api *fakeAPI) *GitHubRepository {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	repo, err := NewGitHubRepository("acme", "game",
		WithBaseURL(server.URL),
		WithToken(api.token),
		WithHTTPClient(server.Client()),
		WithUserAgent("gameserver-deploy/test"))
	require.NoError(t, err)

	return repo
}

// TestResolveLatestListsBeforeDetail checks that "latest" performs the list
// request and then fetches the detail of the first entry.
func TestResolveLatestListsBeforeDetail(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		token: "secret",
		releases: []map[string]any{
			newRelease(42, "v1.2.0", "2024-05-02T10:00:00Z", newAsset(7, "gameserver-v1.2.0.tar.gz", 1024)),
			newRelease(41, "v1.1.0", "2024-04-01T10:00:00Z"),
		},
	}

	repo := newTestRepository(t, api)

	release, err := repo.Resolve(context.Background(), LatestVersion)
	require.NoError(t, err)
	require.Equal(t, int64(42), release.ID)
	require.Equal(t, "v1.2.0", release.Tag)
	require.Len(t, release.Assets, 1)
	require.Equal(t, int64(1024), release.Assets[0].Size)

	require.Equal(t, []string{
		"/repos/acme/game/releases",
		"/repos/acme/game/releases/42",
	}, api.recorded())
}

// TestResolveTagSkipsList checks that an explicit tag is fetched directly.
func TestResolveTagSkipsList(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		releases: []map[string]any{
			newRelease(42, "v1.2.0", "2024-05-02T10:00:00Z", newAsset(7, "gameserver-v1.2.0.tar.gz", 1024)),
		},
	}

	repo := newTestRepository(t, api)

	release, err := repo.Resolve(context.Background(), "v1.2.0")
	require.NoError(t, err)
	require.Equal(t, int64(42), release.ID)
	require.Equal(t, []string{"/repos/acme/game/releases/tags/v1.2.0"}, api.recorded())
}

// TestResolveLatestWithoutReleases reports an empty repository.
func TestResolveLatestWithoutReleases(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, &fakeAPI{releases: []map[string]any{}})

	_, err := repo.Resolve(context.Background(), LatestVersion)
	require.ErrorIs(t, err, ErrNoReleases)
}

// TestResolveUnauthorized propagates HTTP errors without retrying.
func TestResolveUnauthorized(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{token: "expected", releases: []map[string]any{}}

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	repo, err := NewGitHubRepository("acme", "game", WithBaseURL(server.URL+"/"), WithToken("wrong"))
	require.NoError(t, err)

	_, err = repo.Resolve(context.Background(), LatestVersion)
	require.Error(t, err)
	require.Len(t, api.recorded(), 1)
}

// TestPrimaryAssetWithSiblings reads the checksum asset and remembers the signature.
func TestPrimaryAssetWithSiblings(t *testing.T) {
	t.Parallel()

	payload := []byte("release archive")
	sum := sha256.Sum256(payload)

	api := &fakeAPI{
		assets: map[int64][]byte{
			8: []byte(hex.EncodeToString(sum[:]) + "  gameserver-v1.2.0.tar.gz\n"),
		},
	}

	repo := newTestRepository(t, api)

	release := &deploy.Release{
		Tag: "v1.2.0",
		Assets: []deploy.Asset{
			{ID: 7, Name: "gameserver-v1.2.0.tar.gz"},
			{ID: 8, Name: "gameserver-v1.2.0.tar.gz.sha256"},
			{ID: 9, Name: "gameserver-v1.2.0.tar.gz.asc"},
		},
	}

	asset, err := repo.PrimaryAsset(context.Background(), release)
	require.NoError(t, err)
	require.Equal(t, int64(7), asset.ID)
	require.Equal(t, sum[:], asset.Checksum)
	require.Equal(t, int64(9), asset.SignatureID)
}

// TestPrimaryAssetWithoutAssets fails on an empty release.
func TestPrimaryAssetWithoutAssets(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, &fakeAPI{})

	_, err := repo.PrimaryAsset(context.Background(), &deploy.Release{Tag: "v1.0.0"})
	require.ErrorIs(t, err, ErrNoAssets)
}

// TestOpenDownloadsOctetStream checks the download request.
func TestOpenDownloadsOctetStream(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{assets: map[int64][]byte{7: []byte("archive bytes")}}
	repo := newTestRepository(t, api)

	body, err := repo.Open(context.Background(), 7)
	require.NoError(t, err)

	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "archive bytes", string(data))
}

// TestParseChecksum accepts bare digests and sha256sum lines.
func TestParseChecksum(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("x"))
	digest := hex.EncodeToString(sum[:])

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "bare", data: digest + "\n"},
		{name: "sha256sum", data: "deadbeef  other.tar.gz\n" + digest + "  app.tar.gz\n"},
		{name: "binary mode", data: digest + " *app.tar.gz\n"},
		{name: "not hex", data: "zz\n", wantErr: true},
		{name: "other file only", data: digest + "  other.tar.gz\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseChecksum([]byte(tt.data), "app.tar.gz")
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadChecksum)

				return
			}

			require.NoError(t, err)
			require.Equal(t, sum[:], got)
		})
	}
}
