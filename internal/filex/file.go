// Package filex holds small filesystem helpers for the command layer.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir resolves dirName against base (the working directory when base
// is empty), creates it if needed and returns the absolute path. An
// absolute dirName ignores base.
func EnsureDir(base, dirName string) (string, error) {
	dir := dirName
	if !filepath.IsAbs(dir) {
		if base == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("getwd: %w", err)
			}
			base = cwd
		}
		dir = filepath.Join(base, dirName)
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}
