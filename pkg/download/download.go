// Package download fetches remote files over HTTP(S) and verifies their
// checksums.
package download

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
)

const userAgent = "tome"

// Downloader stores the body of url at dest.
type Downloader interface {
	Download(ctx context.Context, url, dest string, verifySSL bool) error
}

// HTTPDownloader is the default Downloader. Client, when set, is used for
// every request regardless of verifySSL, which lets tests inject a client.
type HTTPDownloader struct {
	Client *http.Client
}

var _ Downloader = &HTTPDownloader{}

func (d *HTTPDownloader) client(verifySSL bool) *http.Client {
	if d.Client != nil {
		return d.Client
	}
	if verifySSL {
		return http.DefaultClient
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &http.Client{Transport: transport}
}

func (d *HTTPDownloader) Download(ctx context.Context, url, dest string, verifySSL bool) error {
	logger := logging.GetLogger("download")
	if !verifySSL {
		logger.Warn().Msgf("Certificate validation is disabled for %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client(verifySSL).Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing download: %w", err)
	}

	logger.Debug().Int64("bytes", n).Str("url", url).Msg("Downloaded")
	return nil
}

// Checksums holds the expected hex digests of a file. Empty fields are not
// checked.
type Checksums struct {
	MD5    string
	SHA1   string
	SHA256 string
}

// CheckChecksum verifies every non-empty digest in sums against the file at
// path.
func CheckChecksum(path string, sums Checksums) error {
	checks := []struct {
		name     string
		expected string
		newHash  func() hash.Hash
	}{
		{"md5", sums.MD5, md5.New},
		{"sha1", sums.SHA1, sha1.New},
		{"sha256", sums.SHA256, sha256.New},
	}

	for _, c := range checks {
		if c.expected == "" {
			continue
		}
		actual, err := fileDigest(path, c.newHash())
		if err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Cannot compute %s of %s", c.name, path)
		}
		if !strings.EqualFold(actual, strings.TrimSpace(c.expected)) {
			return tomeerrors.Newf(tomeerrors.ErrFetch,
				"%s signature failed for '%s' file. Provided: %s, computed: %s",
				c.name, filepath.Base(path), c.expected, actual)
		}
	}
	return nil
}

func fileDigest(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
