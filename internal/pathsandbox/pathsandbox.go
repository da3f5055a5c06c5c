// Package pathsandbox implements the Path Sandbox: it
// validates a user-supplied path in either project-relative or
// absolute mode before the sibling HTTP layer touches disk.
//
// The symlink/hardlink escape checks (resolveWithinRoot, isPathInside,
// resolveThroughExistingAncestors, hasMutableSymlinkParent,
// checkHardlink) generalize from a single fixed workspace to an
// arbitrary project root.
package pathsandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
)

const shellUnsafeChars = `<>:"|?*`

// ResolveProjectRelative validates path as a project-relative
// reference and resolves it against root, guaranteeing the result
// stays inside root.
func ResolveProjectRelative(root, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", apierr.New(apierr.InvalidArgument, "path must be relative: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", apierr.New(apierr.InvalidArgument, "path must not contain '..': %s", path)
	}
	if hasDrivePrefix(path) {
		return "", apierr.New(apierr.InvalidArgument, "path must not carry a drive prefix: %s", path)
	}
	if strings.ContainsAny(path, shellUnsafeChars) {
		return "", apierr.New(apierr.InvalidArgument, "path contains shell-unsafe characters: %s", path)
	}
	if strings.ContainsRune(path, 0) {
		return "", apierr.New(apierr.InvalidArgument, "path contains a null byte: %s", path)
	}

	candidate := filepath.Clean(filepath.Join(root, path))
	return resolveWithinRoot(root, candidate)
}

// ResolveAbsolute validates path as an absolute reference, normalizing
// it without restricting it to any root.
func ResolveAbsolute(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", apierr.New(apierr.InvalidArgument, "path must be absolute: %s", path)
	}
	return filepath.Clean(path), nil
}

func hasDrivePrefix(path string) bool {
	return len(path) >= 2 && path[1] == ':' && ((path[0] >= 'a' && path[0] <= 'z') || (path[0] >= 'A' && path[0] <= 'Z'))
}

// resolveWithinRoot canonicalizes candidate (following symlinks where
// it exists, resolving through the deepest existing ancestor where it
// doesn't) and rejects anything that resolves outside root, through a
// mutable symlink parent, or onto a hardlinked file.
func resolveWithinRoot(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, err)
	}
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot
	}

	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, err)
	}

	real, err := filepath.EvalSymlinks(absCandidate)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("security.path_resolve_failed", "path", candidate, "error", err)
			return "", apierr.New(apierr.Internal, "cannot resolve path: %s", candidate)
		}
		if linfo, lerr := os.Lstat(absCandidate); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
			resolved, rerr := resolveBrokenSymlink(absCandidate)
			if rerr != nil {
				slog.Warn("security.broken_symlink_resolve_failed", "path", candidate)
				return "", apierr.New(apierr.PermissionDenied, "cannot resolve broken symlink target")
			}
			if !isPathInside(resolved, rootReal) {
				slog.Warn("security.broken_symlink_escape", "path", candidate, "target", resolved, "root", rootReal)
				return "", apierr.New(apierr.PermissionDenied, "symlink target escapes project root")
			}
			real = resolved
		} else {
			parentReal, perr := filepath.EvalSymlinks(filepath.Dir(absCandidate))
			if perr != nil {
				return "", apierr.New(apierr.NotFound, "path does not exist: %s", candidate)
			}
			real = filepath.Join(parentReal, filepath.Base(absCandidate))
		}
	}

	if !isPathInside(real, rootReal) {
		slog.Warn("security.path_escape", "path", candidate, "resolved", real, "root", rootReal)
		return "", apierr.New(apierr.PermissionDenied, "path escapes project root")
	}

	if hasMutableSymlinkParent(real) {
		slog.Warn("security.mutable_symlink_parent", "path", candidate, "resolved", real)
		return "", apierr.New(apierr.PermissionDenied, "path contains a mutable symlink component")
	}

	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

func resolveBrokenSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	target = filepath.Clean(target)
	return resolveThroughExistingAncestors(target)
}

// resolveThroughExistingAncestors finds the deepest existing ancestor
// of target, canonicalizes it, then re-appends the non-existent tail.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// hasMutableSymlinkParent reports whether any path component is a
// symlink whose containing directory is writable, a TOCTOU rebind
// risk between validation and the actual file operation.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1. Directories are
// exempt since they naturally report nlink > 1.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("security.hardlink_rejected", "path", path, "nlink", stat.Nlink)
			return apierr.New(apierr.PermissionDenied, "hardlinked file not allowed: %s", path)
		}
	}
	return nil
}
