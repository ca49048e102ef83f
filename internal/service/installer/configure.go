package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// initDirPermissions is used when a release lacks its init directory.
const initDirPermissions = 0o750

// copyEnv copies the online version's env file into the new version directory.
// Identical source and destination files are left alone.
func (r *runner) copyEnv(ctx context.Context, versionDir string) error {
	src := r.cfg.EnvFile()
	dst := r.cfg.EnvFileIn(versionDir)

	logger.DebugKV(ctx, "Copying env file", "src", src, "dest", dst)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("env file: %w", err)
	}

	if dstInfo, statErr := os.Stat(dst); statErr == nil && os.SameFile(srcInfo, dstInfo) {
		logger.InfoKV(ctx, "Env file is already in place, proceeding without copying", "src", src, "dest", dst)

		return nil
	}

	if err = copyFile(src, dst, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Copied env file", "src", src, "dest", dst)

	return nil
}

// copyFile writes the contents of src to dst, creating parent directories.
func copyFile(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), initDirPermissions); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("copy %s: %w", src, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}
