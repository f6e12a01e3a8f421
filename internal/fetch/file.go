package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads subscriptions from the local filesystem. Every resolved
// path must stay inside the configured base directory; symlinks that escape
// it are refused.
type FileFetcher struct {
	baseDir string
	bodyCap int64
}

// NewFileFetcher builds a file fetcher rooted at baseDir. An empty baseDir
// confines reads to the current working directory.
func NewFileFetcher(baseDir string, bodyCap int64) (*FileFetcher, error) {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		baseDir = wd
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if bodyCap <= 0 {
		bodyCap = DefaultBodyCap
	}
	return &FileFetcher{baseDir: abs, bodyCap: bodyCap}, nil
}

// Name implements Fetcher.
func (f *FileFetcher) Name() string { return "file" }

// Fetch implements Fetcher. Accepts file:// URLs and bare paths; relative
// paths resolve against the base directory.
func (f *FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckScheme(location); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(location, "file://")
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}
	baseResolved, err := filepath.EvalSymlinks(f.baseDir)
	if err != nil {
		return nil, err
	}
	if !within(baseResolved, resolved) {
		return nil, fmt.Errorf("path escapes base directory: %s", path)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCapped(file, f.bodyCap)
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
