package source

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const maxNameLen = 40

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

var archiveSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tar", ".zip", ".gz"}

// Name returns a short, filesystem-safe label for the source, e.g. "tome"
// for "https://github.com/jfrog/tome.git@main". It is for humans browsing
// the cache; uniqueness comes from the identity hash.
func (s *Source) Name() string {
	var base string
	switch s.Kind {
	case KindGit:
		if _, repoPath, err := parseGitURL(s.URI); err == nil && repoPath != "" {
			base = path.Base(repoPath)
		} else {
			base = filepath.Base(strings.TrimSuffix(s.URI, ".git"))
		}
	case KindURL:
		base = downloadName(s.URI)
	default:
		base = filepath.Base(s.URI)
	}

	base = strings.ToLower(base)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	base = unsafeNameChars.ReplaceAllString(base, "-")
	base = strings.TrimLeft(base, ".-")
	if len(base) > maxNameLen {
		base = base[:maxNameLen]
	}
	if base == "" {
		return "source"
	}
	return base
}

// Identity is the string that distinguishes two sources for caching.
// Sources with equal identities share a cache entry.
func (s *Source) Identity() string {
	id := s.URI
	if s.Version != "" {
		id += "@" + s.Version
	}
	if s.Folder != "" {
		id += "#" + strings.Trim(filepath.ToSlash(s.Folder), "/")
	}
	return id
}
