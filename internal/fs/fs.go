// Package fs holds the handful of filesystem primitives the integrity
// engine needs to stage a rebuilt store or checkout next to the entry it
// is replacing and swap it into place without losing data on a
// cross-device cache root.
package fs

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

var (
	errSrcNotDir = errors.New("source is not a directory")
	errDstExist  = errors.New("destination already exists")
)

// RenameWithFallback renames src to dst, the integrity engine's way of swapping a
// freshly rebuilt store or checkout into the path it is replacing. A
// cache root and its backup suffix can legitimately sit on different
// filesystems (a checkout root on tmpfs, a cache root on a data
// volume), so a cross-device rename is copied and the source removed
// instead of left to fail outright.
func RenameWithFallback(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	return renameFallback(err, src, dst)
}

// renameFallback falls back to a recursive copy when the rename failed
// because src and dst are on different devices. Any other rename error
// is returned as-is.
func renameFallback(err error, src, dst string) error {
	terr, ok := err.(*os.LinkError)
	if !ok {
		return err
	}
	if !isCrossDevice(terr.Err) {
		return errors.Wrapf(terr, "link error: cannot rename %s to %s", src, dst)
	}

	var cerr error
	if dir, _ := IsDir(src); dir {
		cerr = CopyDir(src, dst)
		if cerr != nil {
			cerr = errors.Wrap(cerr, "copying directory failed")
		}
	} else {
		cerr = copyFile(src, dst)
		if cerr != nil {
			cerr = errors.Wrap(cerr, "copying file failed")
		}
	}
	if cerr != nil {
		return errors.Wrapf(cerr, "rename fallback failed: cannot rename %s to %s", src, dst)
	}
	return errors.Wrapf(os.RemoveAll(src), "cannot delete %s", src)
}

// isCrossDevice reports whether the wrapped syscall error is the
// platform's cross-device-link error. syscall.EXDEV is the unix name;
// on Windows the same condition surfaces as ERROR_NOT_SAME_DEVICE
// (0x11) because os.Rename goes through a different OS call there.
func isCrossDevice(err error) bool {
	if runtime.GOOS == "windows" {
		errno, ok := err.(syscall.Errno)
		return ok && errno == 0x11
	}
	return err == syscall.EXDEV
}

// CopyDir recursively copies a directory tree, attempting to preserve
// permissions. Source directory must exist, destination must not.
func CopyDir(src, dst string) error {
	src = filepath.Clean(src)
	dst = filepath.Clean(dst)

	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errSrcNotDir
	}

	if _, err := os.Stat(dst); err == nil {
		return errDstExist
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(dst, fi.Mode()); err != nil {
		return errors.Wrapf(err, "cannot mkdir %s", dst)
	}

	entries, err := ioutil.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "cannot read directory %s", src)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := CopyDir(srcPath, dstPath); err != nil {
				return errors.Wrap(err, "copying directory failed")
			}
		} else if err := copyFile(srcPath, dstPath); err != nil {
			return errors.Wrap(err, "copying file failed")
		}
	}
	return nil
}

// copyFile copies the contents (and, where possible, the symlink
// target) of src to dst, syncing the result to stable storage before
// returning so a crash right after a repair can't leave a half-written
// replacement behind.
func copyFile(src, dst string) (err error) {
	if sym, err := IsSymlink(src); err != nil {
		return errors.Wrap(err, "symlink check failed")
	} else if sym {
		return cloneSymlink(src, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}

	si, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, si.Mode())
}

// cloneSymlink creates a new symlink at dst pointing at whatever sl
// resolves to.
func cloneSymlink(sl, dst string) error {
	resolved, err := os.Readlink(sl)
	if err != nil {
		return err
	}
	return os.Symlink(resolved, dst)
}

// IsDir reports whether name is a directory.
func IsDir(name string) (bool, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	if !fi.IsDir() {
		return false, errors.Errorf("%q is not a directory", name)
	}
	return true, nil
}

// IsSymlink reports whether path is a symbolic link.
func IsSymlink(path string) (bool, error) {
	l, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return l.Mode()&os.ModeSymlink == os.ModeSymlink, nil
}
