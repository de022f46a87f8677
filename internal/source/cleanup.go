package source

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupTemps removes leftovers of Fetch in dir (os.TempDir when empty)
// older than maxAge. It only touches qx-src-* files and qx-convert-* dirs
// and returns how many entries were removed.
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "qx-src-") && !strings.HasPrefix(name, "qx-convert-") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if os.RemoveAll(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed
}
