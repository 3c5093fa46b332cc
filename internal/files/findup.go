// Package files has small filesystem helpers shared by the CLI.
package files

import (
	"os"
	"path/filepath"
)

// FindUp walks from dir toward the filesystem root looking for an entry
// called name, returning its path or "" when no ancestor has one.
// Unreadable directories are skipped rather than treated as fatal.
func FindUp(name, dir string) string {
	cur := dir
	for {
		candidate := filepath.Join(cur, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}
