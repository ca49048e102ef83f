package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/gameserver-deploy/internal/archive"
	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// errArchiveLayout is returned when an archive does not unpack into its version directory.
var errArchiveLayout = errors.New("archive does not contain the version directory")

// extract unpacks the archive into the work directory and returns the version directory.
// Declining the extraction prompt ends the run with ErrAborted.
func (r *runner) extract(ctx context.Context, archivePath string) (string, error) {
	decision, err := r.ask(ctx, extractGate(filepath.Base(archivePath)))
	if err != nil {
		return "", err
	}

	if decision == deploy.Abort {
		return "", ErrAborted
	}

	name, ok := archive.Destination(archivePath)
	if !ok {
		logger.WarnKV(ctx, "Archive format is not supported, nothing extracted", "archive", archivePath)

		return "", fmt.Errorf("%s: %w", filepath.Base(archivePath), ErrUnsupportedArchive)
	}

	dest, err := filepath.Abs(filepath.Join(r.cfg.WorkDir, name))
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}

	logger.InfoKV(ctx, "Extract", "archive", archivePath, "destination", dest)

	if _, err = os.Stat(dest); err == nil {
		decision, err = r.ask(ctx, overwriteDestinationGate())
		if err != nil {
			return "", err
		}

		if decision == deploy.Skip {
			logger.InfoKV(ctx, "Skipping extraction", "destination", dest)

			return dest, nil
		}
	}

	if err = archive.Extract(ctx, archivePath, r.cfg.WorkDir); err != nil {
		return "", err
	}

	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%s: %w", name, errArchiveLayout)
	}

	return dest, nil
}
