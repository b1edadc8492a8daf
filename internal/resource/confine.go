package resource

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a resource reference would escape its
// configured root, directly or via a symlink.
var ErrPathTraversal = errors.New("resource: path traversal not allowed")

// confine resolves rel against root and guarantees the result stays inside
// root, rejecting ".." components and symlink escapes. Adapted from the
// teacher's workspace path-safety discipline (internal/fs.Workspace in the
// pre-transform tree): both components solve "give me a safe, confined
// path resolution given an untrusted relative string," just against an
// asset-bundle root instead of a per-session scratch directory.
func confine(root, rel string) (string, error) {
	if strings.Contains(rel, "..") {
		return "", ErrPathTraversal
	}

	cleaned := strings.TrimPrefix(filepath.Clean(rel), string(filepath.Separator))
	full := filepath.Join(root, cleaned)

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			// The asset may not exist; that's a resolution miss, not a
			// traversal attempt. Still confine the computed path.
			if !isWithin(full, root) {
				return "", ErrPathTraversal
			}
			return full, os.ErrNotExist
		}
		return "", err
	}

	if !isWithin(resolved, root) {
		return "", ErrPathTraversal
	}
	return resolved, nil
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
