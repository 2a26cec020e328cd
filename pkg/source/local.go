package source

import (
	"context"
	"os"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/ignore"
)

// FolderFetcher copies a local directory tree directly into the destination.
type FolderFetcher struct{}

var _ Fetcher = &FolderFetcher{}

func (l *FolderFetcher) Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error) {
	info, err := os.Stat(src.URI)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tomeerrors.Newf(tomeerrors.ErrFetch, "The following path does not exist or is not a directory: %s", src.URI)
		}
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Checking local source path %s", src.URI)
	}
	if !info.IsDir() {
		return nil, tomeerrors.Newf(tomeerrors.ErrFetch, "The following path does not exist or is not a directory: %s", src.URI)
	}

	if _, err := ignore.CopyTree(src.URI, dest); err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to copy %s", src.URI)
	}
	return &Provenance{Source: *src}, nil
}
