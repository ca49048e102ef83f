package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// switchVersion points the online symlink at versionDir. A temporary link is
// renamed over the old one, so the online path always resolves.
func (r *runner) switchVersion(ctx context.Context, versionDir string) error {
	online := r.cfg.OnlinePath()

	logger.InfoKV(ctx, "Changing online symlink", "link", online, "target", versionDir)

	return replaceSymlink(versionDir, online)
}

// replaceSymlink atomically makes link point at target.
func replaceSymlink(target, link string) error {
	tmp := filepath.Join(filepath.Dir(link), "."+filepath.Base(link)+".new")

	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", tmp, err)
	}

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}

	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace %s: %w", link, err)
	}

	return nil
}

// fixOwnership hands the work directory tree over to the configured owner.
func (r *runner) fixOwnership(ctx context.Context) error {
	uid, gid, err := lookupOwner(r.cfg.Owner)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Ensuring ownership", "owner", r.cfg.Owner, "path", r.cfg.WorkDir)

	return chownTree(r.cfg.WorkDir, uid, gid)
}

// lookupOwner resolves "user[:group]" to numeric ids. A missing group means
// the user's primary group.
func lookupOwner(owner string) (uid, gid int, err error) {
	userName, groupName, _ := strings.Cut(owner, ":")

	u, err := user.Lookup(userName)
	if err != nil {
		return 0, 0, fmt.Errorf("look up user: %w", err)
	}

	groupID := u.Gid

	if groupName != "" {
		g, groupErr := user.LookupGroup(groupName)
		if groupErr != nil {
			return 0, 0, fmt.Errorf("look up group: %w", groupErr)
		}

		groupID = g.Gid
	}

	if uid, err = strconv.Atoi(u.Uid); err != nil {
		return 0, 0, fmt.Errorf("user id %q: %w", u.Uid, err)
	}

	if gid, err = strconv.Atoi(groupID); err != nil {
		return 0, 0, fmt.Errorf("group id %q: %w", groupID, err)
	}

	return uid, gid, nil
}

// chownTree changes ownership of root and everything below it without following symlinks.
func chownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err = os.Lchown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", path, err)
		}

		return nil
	})
}
