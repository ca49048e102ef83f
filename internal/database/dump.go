package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"

	"github.com/oshokin/gameserver-deploy/internal/logger"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

const (
	// dumpTimestampLayout is the timestamp format embedded in dump file names.
	dumpTimestampLayout = "20060102150405"

	// dumpDirPermissions is used when the dump directory has to be created.
	dumpDirPermissions = 0o750

	// dumpFilePermissions restricts dumps to the owner.
	dumpFilePermissions = 0o600

	// dumpCommand is the PostgreSQL dump utility.
	dumpCommand = "pg_dump"
)

var (
	// ErrDumpMissing is returned when the dump file does not exist after pg_dump finished.
	ErrDumpMissing = errors.New("dump file does not exist")
	// ErrDumpTooSmall is returned when the dump file is smaller than the plausible minimum.
	ErrDumpTooSmall = errors.New("dump file is smaller than expected")
)

// DumpOptions configures a database dump.
type DumpOptions struct {
	// Dir is the directory receiving the dump; created if missing.
	Dir string
	// Package prefixes the dump file name.
	Package string
	// User is the role pg_dump connects as.
	User string
	// MinSize is the size in bytes a plausible compressed dump must exceed.
	MinSize int64
	// Env is the environment of the pg_dump process.
	Env []string
	// Now is the dump timestamp; zero means time.Now().
	Now time.Time
	// Stderr receives pg_dump diagnostics; nil means os.Stderr.
	Stderr io.Writer
}

// DumpPath returns the dump file location for the given moment.
func DumpPath(dir, pkg string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.sql.gz", pkg, now.Format(dumpTimestampLayout)))
}

// Dump streams pg_dump output through gzip into a timestamped file and
// verifies the result with CheckDump. It returns the dump file path.
func Dump(ctx context.Context, runner common.Runner, params Params, opts *DumpOptions) (string, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if err := os.MkdirAll(opts.Dir, dumpDirPermissions); err != nil {
		return "", fmt.Errorf("create dump directory: %w", err)
	}

	path := DumpPath(opts.Dir, opts.Package, now)

	if err := writeDump(ctx, runner, params, opts, path); err != nil {
		return path, err
	}

	logger.InfoKV(ctx, "Dumped database", "database", params.Name, "path", path)

	if err := CheckDump(path, opts.MinSize); err != nil {
		return path, err
	}

	return path, nil
}

// writeDump runs pg_dump with its standard output compressed into path.
func writeDump(ctx context.Context, runner common.Runner, params Params, opts *DumpOptions, path string) error {
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, dumpFilePermissions)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}

	compressor := pgzip.NewWriter(file)

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := &common.Command{
		Name: dumpCommand,
		Args: []string{
			"--dbname=" + params.Name,
			"--host=" + params.Host,
			"--port=" + params.Port,
			"--username=" + opts.User,
		},
		Env:    opts.Env,
		Stdout: compressor,
		Stderr: stderr,
	}

	logger.InfoKV(ctx, "Starting database dump", "command", cmd.String())

	runErr := runner.Run(ctx, cmd)
	closeErr := errors.Join(compressor.Close(), file.Close())

	if runErr != nil {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.WarnKV(ctx, "Failed to remove incomplete dump", "path", path, "error", removeErr)
		}

		return fmt.Errorf("dump database: %w", runErr)
	}

	if closeErr != nil {
		return fmt.Errorf("finish dump file: %w", closeErr)
	}

	return nil
}

// CheckDump fails when the dump is missing or not larger than minSize bytes.
// Size is the only integrity signal available without restoring the dump.
func CheckDump(path string, minSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrDumpMissing)
		}

		return fmt.Errorf("stat dump file: %w", err)
	}

	if info.Size() <= minSize {
		return fmt.Errorf("%s is %s, want more than %s: %w",
			path, humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(minSize)), ErrDumpTooSmall)
	}

	return nil
}
