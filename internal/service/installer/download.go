package installer

import (
	"bytes"
	"context"
	"crypto"
	_ "crypto/sha256" // Registers SHA-256 for release checksums.
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/dustin/go-humanize"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/progress"
)

const (
	// archiveFileMode is the mode of downloaded archives.
	archiveFileMode = 0o644

	// checksumFunction hashes downloads for comparison with the published checksum.
	checksumFunction = crypto.SHA256
)

var (
	// ErrIncompleteDownload is returned when the body length differs from the declared asset size.
	ErrIncompleteDownload = errors.New("downloaded size does not match asset size")
	// ErrMissingSignature is returned when a signing key is configured but the release has no signature.
	ErrMissingSignature = errors.New("release asset is not signed")
	// ErrChecksumMismatch is returned when a kept archive differs from the published checksum.
	ErrChecksumMismatch = errors.New("archive does not match published checksum")
)

// download resolves the release and stores its primary asset in the work directory.
// An existing file is reused when the operator declines to overwrite it.
func (r *runner) download(ctx context.Context) (string, error) {
	asset, err := r.resolveAsset(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.cfg.WorkDir, filepath.Base(asset.Name))

	decision := deploy.Proceed

	if _, err = os.Stat(path); err == nil {
		if decision, err = r.ask(ctx, overwriteDownloadGate(asset.Name)); err != nil {
			return "", err
		}
	}

	if decision == deploy.Skip {
		logger.InfoKV(ctx, "Skipping download", "path", path)

		if err = verifyChecksum(path, asset.Checksum); err != nil {
			return "", err
		}
	} else {
		if err = r.fetchAsset(ctx, asset, path); err != nil {
			return "", err
		}
	}

	if err = r.verifySignature(ctx, asset, path); err != nil {
		return "", err
	}

	return path, nil
}

// resolveAsset looks up release metadata within the configured timeout.
func (r *runner) resolveAsset(ctx context.Context) (deploy.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	rel, err := r.releases.Resolve(ctx, r.opts.Version)
	if err != nil {
		return deploy.Asset{}, err
	}

	asset, err := r.releases.PrimaryAsset(ctx, rel)
	if err != nil {
		return deploy.Asset{}, err
	}

	logger.InfoKV(ctx, "Resolved release",
		"tag", rel.Tag,
		"asset", asset.Name,
		"size", humanize.IBytes(uint64(max(asset.Size, 0))), //nolint:gosec // Clamped to non-negative.
		"checksum", asset.Checksum != nil,
		"signed", asset.SignatureID != 0)

	return asset, nil
}

// fetchAsset streams the asset into path. The file is only replaced after the
// whole body was received and, when published, its checksum matched.
func (r *runner) fetchAsset(ctx context.Context, asset deploy.Asset, path string) error {
	logger.InfoKV(ctx, "Downloading", "asset", asset.Name, "path", path)

	body, err := r.releases.Open(ctx, asset.ID)
	if err != nil {
		return err
	}

	defer func() {
		_ = body.Close()
	}()

	created := false

	// The updater swaps files and needs an existing target.
	if _, err = os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		var placeholder *os.File

		if placeholder, err = os.Create(filepath.Clean(path)); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}

		_ = placeholder.Close()
		created = true
	}

	reporter := progress.New(ctx, r.opts.Stderr, asset.Size)

	source := &sizedReader{
		reader:   io.TeeReader(body, reporter),
		expected: asset.Size,
	}

	err = goupdate.Apply(source, goupdate.Options{
		TargetPath: path,
		TargetMode: archiveFileMode,
		Checksum:   asset.Checksum,
		Hash:       checksumFunction,
	})

	reporter.Done()

	if err != nil {
		if created {
			_ = os.Remove(path)
		}

		return fmt.Errorf("write %s: %w", asset.Name, err)
	}

	absolute, _ := filepath.Abs(path)
	logger.InfoKV(ctx, "Downloaded", "path", absolute, "size", humanize.IBytes(uint64(reporter.Written()))) //nolint:gosec // Byte counts are non-negative.

	return nil
}

// verifyChecksum hashes an existing archive and compares it with the
// published checksum. A nil checksum means none was published.
func verifyChecksum(path string, checksum []byte) error {
	if checksum == nil {
		return nil
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hash := checksumFunction.New()
	if _, err = io.Copy(hash, file); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}

	if !bytes.Equal(hash.Sum(nil), checksum) {
		return fmt.Errorf("%s: %w", path, ErrChecksumMismatch)
	}

	return nil
}

// verifySignature checks the archive against its detached signature when a key is configured.
func (r *runner) verifySignature(ctx context.Context, asset deploy.Asset, path string) error {
	if r.verifier == nil {
		return nil
	}

	if asset.SignatureID == 0 {
		return fmt.Errorf("%s: %w", asset.Name, ErrMissingSignature)
	}

	sig, err := r.releases.Fetch(ctx, asset.SignatureID)
	if err != nil {
		return err
	}

	if err = r.verifier.VerifyFile(path, sig); err != nil {
		return fmt.Errorf("%s: %w", asset.Name, err)
	}

	logger.InfoKV(ctx, "Signature verified", "asset", asset.Name)

	return nil
}

// sizedReader fails at EOF when fewer or more bytes than expected were read.
// A non-positive expected size disables the check.
type sizedReader struct {
	reader   io.Reader
	expected int64
	read     int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	s.read += int64(n)

	if errors.Is(err, io.EOF) && s.expected > 0 && s.read != s.expected {
		return n, fmt.Errorf("got %d of %d bytes: %w", s.read, s.expected, ErrIncompleteDownload)
	}

	return n, err
}
