package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/gameserver-deploy/internal/config"
	"github.com/oshokin/gameserver-deploy/internal/database"
	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

const (
	testOldVersion = "gameserver-v1.0.0"
	testNewVersion = "gameserver-v1.1.0"
	testArchive    = testNewVersion + ".tar.gz"
	testEnv        = "export GAMESERVER_DATABASE_NAME=gameserver\n" +
		"GAMESERVER_DATABASE_HOST=localhost\n" +
		"GAMESERVER_DATABASE_PORT=5432\n" +
		"GAMESERVER_DATABASE_USER=gameserver\n" +
		"GAMESERVER_DATABASE_PASS=\"s3cr@t\"\n"
)

// fakeReleases serves a single release with one archive asset.
type fakeReleases struct {
	archive  []byte
	checksum []byte
	sig      []byte
	signed   bool
	resolved []string
	opened   int
}

func (f *fakeReleases) Resolve(_ context.Context, version string) (*deploy.Release, error) {
	f.resolved = append(f.resolved, version)

	return &deploy.Release{
		ID:  42,
		Tag: "v1.1.0",
		Assets: []deploy.Asset{
			{ID: 7, Name: testArchive, Size: int64(len(f.archive))},
		},
	}, nil
}

func (f *fakeReleases) PrimaryAsset(_ context.Context, release *deploy.Release) (deploy.Asset, error) {
	asset := release.Assets[0]
	asset.Checksum = f.checksum

	if f.signed {
		asset.SignatureID = 8
	}

	return asset, nil
}

func (f *fakeReleases) Open(_ context.Context, _ int64) (io.ReadCloser, error) {
	f.opened++

	return io.NopCloser(bytes.NewReader(f.archive)), nil
}

func (f *fakeReleases) Fetch(_ context.Context, _ int64) ([]byte, error) {
	return f.sig, nil
}

// scriptedDecider answers gates from a question -> decision table and
// falls back to the unattended decision.
type scriptedDecider struct {
	mu      sync.Mutex
	answers map[string]deploy.Decision
	asked   []string
}

func (s *scriptedDecider) Decide(_ context.Context, gate *common.Gate) (deploy.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.asked = append(s.asked, gate.Question)

	if decision, ok := s.answers[gate.Question]; ok {
		return decision, nil
	}

	return gate.Unattended, nil
}

// fakeRunner records commands instead of executing them.
type fakeRunner struct {
	mu       sync.Mutex
	commands []*common.Command
	// output is written to stdout of commands whose base name matches.
	output map[string][]byte
	// fail makes commands with the given base name exit non-zero.
	fail map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, cmd *common.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, cmd)
	name := filepath.Base(cmd.Name)

	if out, ok := f.output[name]; ok && cmd.Stdout != nil {
		if _, err := cmd.Stdout.Write(out); err != nil {
			return err
		}
	}

	if f.fail[name] {
		return fmt.Errorf("%s exited with status 1: %w", name, common.ErrCommandFailed)
	}

	return nil
}

// names returns "<base name> <first argument>" for every recorded command.
func (f *fakeRunner) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]string, 0, len(f.commands))

	for _, cmd := range f.commands {
		line := filepath.Base(cmd.Name)
		if len(cmd.Args) > 0 {
			line += " " + cmd.Args[0]
		}

		result = append(result, line)
	}

	return result
}

// testHost is a work directory with an online version and a packaged new version.
type testHost struct {
	workDir  string
	releases *fakeReleases
	runner   *fakeRunner
	decider  *scriptedDecider
	stdout   *bytes.Buffer
	pinged   int
	cfg      *config.Config
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()

	workDir := t.TempDir()

	oldDir := filepath.Join(workDir, testOldVersion)
	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "init"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "init", "gameserver.env"), []byte(testEnv), 0o600))
	require.NoError(t, os.Symlink(oldDir, filepath.Join(workDir, "gameserver_online")))

	archive := buildArchive(t, testNewVersion)

	cfg := config.Default()
	cfg.WorkDir = workDir
	cfg.DumpDir = filepath.Join(workDir, "db_copy")
	cfg.Owner = currentOwner(t)
	cfg.Token = "token"
	require.NoError(t, config.Validate(cfg))

	return &testHost{
		workDir:  workDir,
		releases: &fakeReleases{archive: archive},
		runner:   &fakeRunner{output: map[string][]byte{}, fail: map[string]bool{}},
		decider:  &scriptedDecider{answers: map[string]deploy.Decision{}},
		stdout:   &bytes.Buffer{},
		cfg:      cfg,
	}
}

// options wires the fakes into installer options.
func (h *testHost) options() *Options {
	return &Options{
		Config:   h.cfg,
		Version:  "latest",
		Releases: h.releases,
		Runner:   h.runner,
		Decider:  h.decider,
		Ping: func(context.Context, database.Params, time.Duration) error {
			h.pinged++

			return nil
		},
		Stdin:  strings.NewReader(""),
		Stdout: h.stdout,
		Stderr: io.Discard,
		Now: func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		},
	}
}

// newRunner builds a runner over the host for stage-level tests.
func (h *testHost) newRunner(t *testing.T) *runner {
	t.Helper()

	r, err := newRunner(context.Background(), h.options())
	require.NoError(t, err)

	return r
}

// withChecksum publishes the archive's real SHA-256.
func (h *testHost) withChecksum() {
	sum := sha256.Sum256(h.releases.archive)
	h.releases.checksum = sum[:]
}

// buildArchive packs a minimal release tree under dir.
func buildArchive(t *testing.T, dir string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	dirs := []string{dir, dir + "/init", dir + "/static", dir + "/migrations", dir + "/static-migrations"}
	for _, name := range dirs {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755}))
	}

	files := map[string]string{
		dir + "/gameserver":                    "#!/bin/sh\n",
		dir + "/migrate":                       "#!/bin/sh\n",
		dir + "/migrations/0001_init.up.sql":   "create table players();\n",
		dir + "/static-migrations/0001.up.sql": "insert into maps values (1);\n",
		dir + "/static/maps.csv":               "id,name\n1,arena\n",
	}

	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o755,
			Size:     int64(len(body)),
		}))

		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

// currentOwner returns "user:group" of the test process so chown is permitted.
func currentOwner(t *testing.T) string {
	t.Helper()

	u, err := user.Current()
	if err != nil {
		t.Skipf("current user is unknown: %v", err)
	}

	if _, err = user.Lookup(u.Username); err != nil {
		t.Skipf("current user cannot be looked up: %v", err)
	}

	return u.Username
}
