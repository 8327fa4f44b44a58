package importer

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
)

// isCandidate reports whether a directory entry below the root may hold an
// instance. Hidden entries and DICOMDIR media indexes are ignored.
func isCandidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.EqualFold(name, "DICOMDIR")
}

// walkCandidates returns candidate files under root in lexical order.
// Unreadable subdirectories are logged and skipped. The walk stops early
// when ctx is cancelled.
func walkCandidates(ctx context.Context, root string, logger *log.Logger) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			logger.Printf("skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if !isCandidate(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
