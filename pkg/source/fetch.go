package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomecli/tome/pkg/download"
	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/runner"
)

// Fetcher materializes one kind of source into dest. dest must not exist
// yet; its parent must. Implementations copy through the ignore-filtered
// tree copy and return the provenance of what they fetched.
type Fetcher interface {
	Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error)
}

// Deps are the collaborators shared by the fetch strategies.
type Deps struct {
	Runner     runner.Runner
	Downloader download.Downloader
	// TempDir is where scoped working directories are created. Empty means
	// the system default.
	TempDir string
}

// Fetchers is the dispatch table from source kind to strategy. Editable
// sources are never fetched and have no entry.
type Fetchers map[Kind]Fetcher

// NewFetchers returns the default strategy for every copyable kind.
func NewFetchers(d Deps) Fetchers {
	return Fetchers{
		KindGit:    &GitFetcher{Runner: d.Runner, TempDir: d.TempDir},
		KindURL:    &URLFetcher{Downloader: d.Downloader, TempDir: d.TempDir},
		KindFolder: &FolderFetcher{},
		KindFile:   &FileFetcher{TempDir: d.TempDir},
	}
}

// Fetch selects the strategy registered for src.Kind.
func (f Fetchers) Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error) {
	fetcher, ok := f[src.Kind]
	if !ok {
		return nil, tomeerrors.Newf(tomeerrors.ErrFetch, "No fetch strategy for %s sources: %s", src.Kind, src.URI)
	}
	return fetcher.Fetch(ctx, src, dest)
}

// withTempDir runs fn inside a fresh working directory that is removed on
// every exit path.
func withTempDir(dir, pattern string, fn func(tmp string) error) error {
	tmp, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("creating temporary folder: %w", err)
	}
	defer os.RemoveAll(tmp)
	return fn(tmp)
}

// subfolder joins folder onto root, refusing paths that leave root.
func subfolder(root, folder string) (string, error) {
	joined := filepath.Join(root, filepath.FromSlash(folder))
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", tomeerrors.Newf(tomeerrors.ErrFetch, "Folder '%s' is outside the fetched content.", folder)
	}
	return joined, nil
}
