// Package fs validates and prepares filesystem paths for downloads.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideBase = errors.New("target directory is outside the allowed base directory")

// ResolveTargetDir resolves and validates the directory a download may
// write to. An empty request falls back to defaultDir. The result is
// sandboxed under base; the directory is created when missing.
func ResolveTargetDir(requested, defaultDir, base string) (string, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	target := requested
	if target == "" {
		target = defaultDir
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return "", err
	}

	if !within(base, target) {
		return "", ErrOutsideBase
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", errors.New("target path is not a directory")
	}
	return target, nil
}

// UniquePath returns p if no file exists there, otherwise the first free
// path with an incrementing " (n)" suffix before the extension.
func UniquePath(p string) string {
	if _, err := os.Stat(p); err != nil {
		return p
	}
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// ToHostDisplayPath maps a produced file path under base to the
// corresponding host-visible path. Returns "" when no host root is
// configured or the file is outside base. Useful when the service runs in
// a container with base bind-mounted from the host.
func ToHostDisplayPath(filePath, base, hostRoot string) string {
	if filePath == "" || hostRoot == "" {
		return ""
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return ""
	}
	if !within(base, abs) {
		return ""
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return ""
	}
	return filepath.Join(hostRoot, rel)
}

// within reports whether target is base or lexically inside it. Both
// arguments must already be absolute.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
