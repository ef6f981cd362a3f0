package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("path cannot be empty")
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", dir)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}

	return err
}

// NewWorkspace creates a scratch directory under root (or the system temp dir
// when root is empty) for one unit of work.
func NewWorkspace(root, prefix string) (string, error) {
	if root != "" {
		if err := EnsureDir(root); err != nil {
			return "", fmt.Errorf("failed to create work dir %s: %w", root, err)
		}
	}
	return os.MkdirTemp(root, prefix)
}

// CleanupWorkspace removes a scratch directory created by NewWorkspace.
func CleanupWorkspace(root, dir string) error {
	if dir == "" {
		return nil
	}

	base := root
	if base == "" {
		base = os.TempDir()
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	// only remove directories under the workspace root
	if !strings.HasPrefix(absDir, absBase+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to remove directory outside work dir: %s", dir)
	}

	return os.RemoveAll(absDir)
}

// ExtensionFromURL returns the lowercase extension of a URL path or object key,
// or fallback when there is none.
func ExtensionFromURL(raw, fallback string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		return fallback
	}
	return ext
}

// IsRemoteURL reports whether ref is an http(s) URL rather than an object key.
func IsRemoteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
