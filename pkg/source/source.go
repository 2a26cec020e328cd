package source

import (
	"os"
	"path/filepath"
	"strings"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
)

// Kind classifies where installable content comes from.
type Kind string

const (
	KindGit      Kind = "git"      // git clone (no matter if local or remote)
	KindURL      Kind = "url"      // downloading an archive over http(s)
	KindFolder   Kind = "folder"   // copying a local directory
	KindFile     Kind = "file"     // unpacking a local archive
	KindEditable Kind = "editable" // registering a live directory, nothing copied
)

func (k Kind) String() string {
	return string(k)
}

// Source describes one installable origin. It is serialized verbatim into
// the provenance record of every cache entry.
type Source struct {
	URI       string `json:"uri"`
	Kind      Kind   `json:"kind"`
	Version   string `json:"version"`
	VerifySSL bool   `json:"verify_ssl"`
	// Commit is the full hash of HEAD, set only after a git fetch completes.
	Commit string `json:"commit"`
	// Folder selects a sub-tree of the fetched content as the install root.
	Folder string `json:"folder"`
	// SHA256 is an optional checksum for downloaded archives.
	SHA256 string `json:"sha256,omitempty"`
}

func (s *Source) String() string {
	return s.URI
}

// Parse classifies a user-provided source string. The first matching rule
// wins:
//
//  1. contains ".git" or starts with "git@": git. A ".git@" suffix splits
//     on the last "@" into clone URL and version ref.
//  2. starts with "http": url.
//  3. an existing local directory: folder; an existing local file: file.
//
// Editable status is never decided here; callers overwrite Kind.
func Parse(uri string) (*Source, error) {
	if uri == "" {
		return nil, tomeerrors.New(tomeerrors.ErrSourceFormat, "No installation source provided.")
	}

	if strings.Contains(uri, ".git") || strings.HasPrefix(uri, "git@") {
		src := &Source{URI: uri, Kind: KindGit, VerifySSL: true}
		if strings.Contains(uri, ".git@") {
			at := strings.LastIndex(uri, "@")
			src.URI, src.Version = uri[:at], uri[at+1:]
		}
		return src, nil
	}

	if strings.HasPrefix(uri, "http") {
		return &Source{URI: uri, Kind: KindURL, VerifySSL: true}, nil
	}

	abs, err := filepath.Abs(uri)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrSourceFormat, "Could not determine the type for source: %s", uri)
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		return &Source{URI: abs, Kind: KindFolder, VerifySSL: true}, nil
	case err == nil && info.Mode().IsRegular():
		return &Source{URI: abs, Kind: KindFile, VerifySSL: true}, nil
	default:
		return nil, tomeerrors.Newf(tomeerrors.ErrSourceFormat, "Could not determine the type for source: %s", abs)
	}
}

// Validate checks the invariants that Parse cannot enforce alone because
// callers set Folder and Kind afterwards.
func (s *Source) Validate() error {
	if s.URI == "" {
		return tomeerrors.New(tomeerrors.ErrSourceFormat, "No installation source provided.")
	}
	switch s.Kind {
	case KindGit, KindURL, KindFolder, KindFile, KindEditable:
	default:
		return tomeerrors.Newf(tomeerrors.ErrSourceFormat, "Unknown source type %q for source: %s", s.Kind, s.URI)
	}
	if s.Folder != "" && !s.SupportsFolder() {
		return tomeerrors.New(tomeerrors.ErrSourceFormat,
			"--folder argument is only compatible with git repositories and file sources.")
	}
	return nil
}

// SupportsFolder reports whether a sub-folder may be selected for this kind.
// For local folders the sub-path can be given in the source itself.
func (s *Source) SupportsFolder() bool {
	return s.Kind == KindGit || s.Kind == KindURL || s.Kind == KindFile
}
