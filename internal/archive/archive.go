package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"

	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// Suffix is the only archive format the extractor understands.
const Suffix = ".tar.gz"

// dirPermissions is used for directories without an explicit mode in the archive.
const dirPermissions = 0o755

var (
	// ErrUnsafePath is returned for entries that would land outside the destination.
	ErrUnsafePath = errors.New("archive entry escapes destination")
	// ErrUnsupportedEntry is returned for device files, FIFOs and similar entries.
	ErrUnsupportedEntry = errors.New("unsupported archive entry")
)

// Destination returns the directory an archive named fileName extracts into:
// the name with the ".tar.gz" suffix removed. ok is false for other formats.
func Destination(fileName string) (string, bool) {
	base := filepath.Base(fileName)
	if !strings.HasSuffix(base, Suffix) || base == Suffix {
		return "", false
	}

	return strings.TrimSuffix(base, Suffix), true
}

// Extract unpacks the gzip-compressed tarball at archivePath into dest.
// The archive is expected to carry its own top-level directory, so dest is
// usually the parent of the directory named by Destination.
func Extract(ctx context.Context, archivePath, dest string) error {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	gz, err := pgzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("read gzip stream of %s: %w", archivePath, err)
	}

	defer func() {
		_ = gz.Close()
	}()

	ex, err := openExtractor(dest)
	if err != nil {
		return err
	}

	defer func() {
		_ = ex.root.Close()
	}()

	var (
		reader  = tar.NewReader(gz)
		entries int
		total   int64
	)

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		header, nextErr := reader.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			return fmt.Errorf("read archive %s: %w", archivePath, nextErr)
		}

		written, entryErr := ex.extractEntry(header, reader)
		if entryErr != nil {
			return entryErr
		}

		entries++
		total += written
	}

	logger.InfoKV(ctx, "Extracted archive",
		"archive", archivePath,
		"destination", ex.dir,
		"entries", entries,
		"size", humanize.IBytes(uint64(total))) //nolint:gosec // total is a sum of non-negative sizes.

	return nil
}

// extractor writes entries through an os.Root, so links created by earlier
// entries cannot redirect later ones outside the destination.
type extractor struct {
	root *os.Root
	// dir is the absolute destination path, realDir is dir with symlinks resolved.
	dir     string
	realDir string
}

func openExtractor(dest string) (*extractor, error) {
	dir, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	if err = os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}

	return &extractor{root: root, dir: dir, realDir: realDir}, nil
}

// extractEntry materializes a single tar entry below the destination.
func (ex *extractor) extractEntry(header *tar.Header, r io.Reader) (int64, error) {
	name, err := cleanName(header.Name)
	if err != nil {
		return 0, err
	}

	mode := header.FileInfo().Mode()

	switch header.Typeflag {
	case tar.TypeDir:
		return 0, ex.root.MkdirAll(name, mode.Perm()|0o700)
	case tar.TypeReg:
		return ex.writeFile(name, mode.Perm(), r)
	case tar.TypeSymlink:
		if err = ex.checkLink(name, header.Linkname); err != nil {
			return 0, err
		}

		if err = ex.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("replace %s: %w", header.Name, err)
		}

		return 0, ex.root.Symlink(header.Linkname, name)
	case tar.TypeLink:
		source, linkErr := cleanName(header.Linkname)
		if linkErr != nil {
			return 0, linkErr
		}

		if err = ex.mkdirParent(name); err != nil {
			return 0, err
		}

		return 0, ex.root.Link(source, name)
	case tar.TypeXGlobalHeader:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s (type %q): %w", header.Name, header.Typeflag, ErrUnsupportedEntry)
	}
}

// writeFile copies an entry body into name, replacing an existing file.
func (ex *extractor) writeFile(name string, perm fs.FileMode, r io.Reader) (int64, error) {
	if err := ex.mkdirParent(name); err != nil {
		return 0, err
	}

	file, err := ex.root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}

	written, copyErr := io.Copy(file, r)
	closeErr := file.Close()

	if copyErr != nil {
		return written, fmt.Errorf("write %s: %w", name, copyErr)
	}

	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", name, closeErr)
	}

	return written, nil
}

// mkdirParent creates the parent directory of name unless it already exists.
func (ex *extractor) mkdirParent(name string) error {
	parent := filepath.Dir(name)

	if info, err := ex.root.Stat(parent); err == nil && info.IsDir() {
		return nil
	}

	if err := ex.root.MkdirAll(parent, dirPermissions); err != nil {
		return fmt.Errorf("create parent of %s: %w", name, err)
	}

	return nil
}

// checkLink rejects symlinks whose target resolves outside the destination.
// The parent is resolved on disk, so links planted by earlier entries count.
func (ex *extractor) checkLink(name, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("%s -> %s: %w", name, linkname, ErrUnsafePath)
	}

	if !within(ex.dir, filepath.Join(ex.dir, filepath.Dir(name), filepath.FromSlash(linkname))) {
		return fmt.Errorf("%s -> %s: %w", name, linkname, ErrUnsafePath)
	}

	parent := filepath.Join(ex.dir, filepath.Dir(name))

	resolved, err := filepath.EvalSymlinks(parent)
	if errors.Is(err, fs.ErrNotExist) {
		if err = ex.mkdirParent(name); err != nil {
			return err
		}

		resolved, err = filepath.EvalSymlinks(parent)
	}

	if err != nil {
		return fmt.Errorf("resolve parent of %s: %w", name, err)
	}

	if !within(ex.realDir, filepath.Join(resolved, filepath.FromSlash(linkname))) {
		return fmt.Errorf("%s -> %s: %w", name, linkname, ErrUnsafePath)
	}

	return nil
}

// cleanName turns an entry name into a clean path relative to the destination,
// rejecting absolute or escaping names.
func cleanName(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}

	return clean, nil
}

// within reports whether path equals root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
