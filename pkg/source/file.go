package source

import (
	"context"

	"github.com/tomecli/tome/pkg/archive"
	"github.com/tomecli/tome/pkg/download"
	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/ignore"
)

// FileFetcher unpacks a local archive into a scoped working directory and
// copies the result into the destination.
type FileFetcher struct {
	TempDir string
}

var _ Fetcher = &FileFetcher{}

func (f *FileFetcher) Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error) {
	if !archive.IsArchive(src.URI) {
		return nil, tomeerrors.Newf(tomeerrors.ErrFetch, "Unsupported file type: %s", src.URI)
	}
	if src.SHA256 != "" {
		if err := download.CheckChecksum(src.URI, download.Checksums{SHA256: src.SHA256}); err != nil {
			return nil, err
		}
	}

	err := withTempDir(f.TempDir, "tome-file-*", func(tmp string) error {
		return unpackAndCopy(ctx, src, src.URI, tmp, dest)
	})
	if err != nil {
		return nil, err
	}
	return &Provenance{Source: *src}, nil
}

// unpackAndCopy extracts archivePath into workDir, hoists the selected
// folder to the root if one is set, and copies the tree into dest.
func unpackAndCopy(ctx context.Context, src *Source, archivePath, workDir, dest string) error {
	if err := archive.Unpack(ctx, archivePath, workDir); err != nil {
		return err
	}
	if src.Folder != "" {
		if err := archive.HoistFolder(workDir, src.Folder); err != nil {
			return err
		}
	}
	if _, err := ignore.CopyTreeWithin(workDir, dest); err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to copy %s", src.URI)
	}
	return nil
}
