// Package discover walks a workspace root and yields candidate files for
// the indexer's scan pass (spec.md §4.3 step 1).
package discover

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sari-dev/sari/internal/config"
)

// FileInfo represents a discovered candidate file.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // workspace-relative, slash-separated
	Size    int64
}

// Options configures file discovery.
type Options struct {
	Config     *config.DiscoverConfig
	IgnoreFile string // path to .cgrignore, overrides the default "<root>/.cgrignore"
}

// shouldSkipDir returns true if the directory should be skipped during discovery.
func shouldSkipDir(name, rel string, excludeDirs map[string]bool, extraIgnore []string) bool {
	if excludeDirs[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func matchesAny(name, rel string, globs []string) bool {
	for _, g := range globs {
		if matched, _ := filepath.Match(g, name); matched {
			return true
		}
		if matched, _ := filepath.Match(g, rel); matched {
			return true
		}
	}
	return false
}

// Discover walks repoPath and returns every file that is a candidate per
// the discover config: extension in IncludeExt or basename in
// IncludeFiles, not under an ExcludeDirs directory, not matching an
// ExcludeGlobs pattern, and size <= MaxFileBytes.
func Discover(ctx context.Context, repoPath string, opts *Options) ([]FileInfo, error) {
	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.DefaultWorkspaceConfig().Discover
	if opts != nil && opts.Config != nil {
		cfg = *opts.Config
	}

	includeExt := make(map[string]bool, len(cfg.IncludeExt))
	for _, e := range cfg.IncludeExt {
		includeExt[e] = true
	}
	includeFiles := make(map[string]bool, len(cfg.IncludeFiles))
	for _, f := range cfg.IncludeFiles {
		includeFiles[f] = true
	}
	excludeDirs := make(map[string]bool, len(cfg.ExcludeDirs))
	for _, d := range cfg.ExcludeDirs {
		excludeDirs[d] = true
	}

	var extraIgnore []string
	ignPath := filepath.Join(repoPath, ".cgrignore")
	if opts != nil && opts.IgnoreFile != "" {
		ignPath = opts.IgnoreFile
	}
	extraIgnore, _ = loadIgnoreFile(ignPath)

	maxBytes := config.DefaultWorkspaceConfig().MaxFileBytes()
	if cfg.MaxFileBytes != nil {
		maxBytes = *cfg.MaxFileBytes
	}

	var files []FileInfo
	err = filepath.Walk(repoPath, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(repoPath, path)
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if shouldSkipDir(info.Name(), rel, excludeDirs, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}

		if matchesAny(info.Name(), rel, cfg.ExcludeGlobs) {
			return nil
		}
		if matchesAny(info.Name(), rel, extraIgnore) {
			return nil
		}
		if info.Size() > maxBytes {
			return nil
		}

		ext := filepath.Ext(path)
		if includeExt[ext] || includeFiles[info.Name()] {
			files = append(files, FileInfo{Path: path, RelPath: rel, Size: info.Size()})
		}
		return nil
	})

	return files, err
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
