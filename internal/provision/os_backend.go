package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// useraddExitNameInUse is useradd's exit status for "username already in use".
const useraddExitNameInUse = 9

// ErrUnsafePath means a path inside a home directory was a symlink or of the
// wrong type. The account owns its home, so such paths are never followed.
var ErrUnsafePath = errors.New("unsafe path")

// OSBackend provisions accounts on the local machine. It needs root.
type OSBackend struct{}

func (OSBackend) AccountExists(_ context.Context, username string) (bool, error) {
	_, err := user.Lookup(username)
	if err == nil {
		return true, nil
	}
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		return false, nil
	}
	return false, err
}

func (OSBackend) CreateAccount(ctx context.Context, username, home, shell string) error {
	err := runCommand(ctx, "useradd", "-m", "-d", home, "-s", shell, username)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == useraddExitNameInUse {
		// Lost a race with another creator; the account is there.
		return nil
	}
	return err
}

func (OSBackend) EnsureDir(_ context.Context, path string, perm os.FileMode) error {
	_, err := os.Lstat(path)
	if err == nil {
		return requireRealDir(path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(path, perm)
}

// CopyFile writes src to a temp file next to dst and renames it into place,
// so a symlink planted at dst is replaced rather than written through.
func (OSBackend) CopyFile(_ context.Context, src, dst string) error {
	dir := filepath.Dir(dst)
	if err := requireRealDir(dir); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open template: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", tmp, err)
	}
	if err := out.Chmod(0600); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("install %s: %w", dst, err)
	}
	return nil
}

func (OSBackend) Chown(_ context.Context, path, username string) error {
	if err := requireRealDir(path); err != nil {
		return err
	}
	uid, gid, err := lookupIDs(username)
	if err != nil {
		return err
	}
	return filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, uid, gid)
	})
}

// Chmod only applies to real directories.
func (OSBackend) Chmod(_ context.Context, path string, perm os.FileMode) error {
	if err := requireRealDir(path); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

// ConfigureGit writes settings into the account's global git config. git runs
// as root against an explicit --file so no shell or su is involved; the file
// is handed to the account afterwards.
func (OSBackend) ConfigureGit(ctx context.Context, username, home string, settings []GitSetting) error {
	if err := requireRealDir(home); err != nil {
		return err
	}
	gitconfig := filepath.Join(home, ".gitconfig")
	info, err := os.Lstat(gitconfig)
	switch {
	case err == nil && !info.Mode().IsRegular():
		return fmt.Errorf("%w: %s is not a regular file", ErrUnsafePath, gitconfig)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}
	for _, s := range settings {
		if err := runCommand(ctx, "git", "config", "--file", gitconfig, s.Key, s.Value); err != nil {
			return err
		}
	}
	uid, gid, err := lookupIDs(username)
	if err != nil {
		return err
	}
	return os.Lchown(gitconfig, uid, gid)
}

// requireRealDir fails unless path is a directory and not a symlink.
func requireRealDir(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUnsafePath, path)
	}
	return nil
}

func lookupIDs(username string) (int, int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
