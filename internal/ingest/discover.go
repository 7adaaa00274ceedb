package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"bhoomi/internal/apperr"
)

// discover lists the supported files under root in path order, skipping
// the directory the index is persisted to.
func discover(root, indexDir string, supports func(string) bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperr.Configuration("ingest.discover", err)
	}
	if !info.IsDir() {
		return nil, apperr.E(apperr.KindConfiguration, "ingest.discover", nil, root+" is not a directory")
	}

	skip := ""
	if indexDir != "" {
		if abs, err := filepath.Abs(indexDir); err == nil {
			skip = abs
		}
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skip != "" {
				if abs, aerr := filepath.Abs(path); aerr == nil && abs == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Type().IsRegular() && supports(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Configuration("ingest.discover", err)
	}

	sort.Strings(paths)
	return paths, nil
}
