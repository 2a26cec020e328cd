package source

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/tomecli/tome/pkg/archive"
	"github.com/tomecli/tome/pkg/download"
	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
)

// URLFetcher downloads a remote archive and unpacks it the same way
// FileFetcher does. A download that is not a recognized archive is kept
// out of the cache with a warning.
type URLFetcher struct {
	Downloader download.Downloader
	TempDir    string
}

var _ Fetcher = &URLFetcher{}

func (u *URLFetcher) Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error) {
	logger := logging.GetLogger("source.url")
	filename := downloadName(src.URI)

	err := withTempDir(u.TempDir, "tome-url-*", func(tmp string) error {
		archivePath := filepath.Join(tmp, filename)
		if err := u.Downloader.Download(ctx, src.URI, archivePath, src.VerifySSL); err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to download %s", src.URI)
		}

		if src.SHA256 != "" {
			if err := download.CheckChecksum(archivePath, download.Checksums{SHA256: src.SHA256}); err != nil {
				return err
			}
		}

		if !archive.IsArchive(filename) {
			logger.Warn().Msgf("Downloaded %s but did not extract (unsupported type)", filename)
			return os.MkdirAll(dest, 0o755)
		}

		if err := unpackAndCopy(ctx, src, archivePath, filepath.Join(tmp, "unpacked"), dest); err != nil {
			return err
		}
		logger.Info().Msgf("Extracted %s", filename)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Provenance{Source: *src}, nil
}

// downloadName returns the file name component of a URL's path.
func downloadName(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
