package watcher

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// addRecursive registers every directory under root with fsw. fsnotify
// watches directories, not trees, so new subdirectories created after
// startup are only picked up by the next full scan's baseline refresh.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return filepath.SkipDir
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// relPath returns name's path relative to root, slash-separated.
func relPath(root, name string) (string, error) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
