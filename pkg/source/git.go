package source

import (
	"context"
	"net/url"
	"os"
	"strings"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/ignore"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/runner"
)

// GitFetcher clones a repository, optionally checks out a ref, and copies
// the working tree (or a sub-folder of it) into the destination.
type GitFetcher struct {
	Runner  runner.Runner
	TempDir string
}

var _ Fetcher = &GitFetcher{}

func (g *GitFetcher) Fetch(ctx context.Context, src *Source, dest string) (*Provenance, error) {
	logger := logging.GetLogger("source.git")

	var commit string
	err := withTempDir(g.TempDir, "tome-git-*", func(tmp string) error {
		if src.Version == "" {
			logger.Info().Msgf("Cloning %s", src.URI)
		} else {
			logger.Info().Msgf("Cloning %s at '%s' branch", src.URI, src.Version)
		}

		// 1. Clone into the scoped working directory.
		if err := g.git(ctx, tmp, "Failed to clone "+src.URI, "clone", src.URI, "."); err != nil {
			return err
		}

		// 2. Check out the requested ref, if any.
		if src.Version != "" {
			if isCommitHash(src.Version) {
				logger.Debug().Str("commit", src.Version).Msg("Version is a pinned commit")
			}
			msg := "Failed to checkout " + src.URI + " at " + src.Version
			if err := g.git(ctx, tmp, msg, "checkout", src.Version); err != nil {
				return err
			}
		}

		// 3. Resolve the full hash of HEAD.
		code, out, err := g.Runner.Run(ctx, []string{"git", "rev-list", "HEAD", "-n", "1", "--full-history"}, tmp)
		if err != nil || code != 0 {
			return fetchFailure("Cannot obtain commit information after clone", out, err)
		}
		resolved := strings.TrimSpace(out)
		logger.Info().Str("commit", resolved).Msgf("Cloned %s", src.URI)

		// 4. Copy the selected tree.
		root := tmp
		if src.Folder != "" {
			root, err = subfolder(tmp, src.Folder)
			if err != nil {
				return err
			}
			if _, err := os.Stat(root); err != nil {
				return tomeerrors.Newf(tomeerrors.ErrFetch,
					"Folder specified with --folder: '%s' does not exist after cloning.", src.Folder)
			}
		}

		if _, err := ignore.CopyTreeWithin(root, dest); err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to copy %s", src.URI)
		}
		commit = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}

	src.Commit = commit
	return &Provenance{Source: *src}, nil
}

func (g *GitFetcher) git(ctx context.Context, dir, failure string, args ...string) error {
	code, out, err := g.Runner.Run(ctx, append([]string{"git"}, args...), dir)
	if err != nil || code != 0 {
		return fetchFailure(failure, out, err)
	}
	return nil
}

// fetchFailure builds a FETCH error that carries the captured process output.
func fetchFailure(msg, output string, err error) error {
	if output = strings.TrimSpace(output); output != "" {
		msg = msg + ": " + output
	}
	if err != nil {
		return tomeerrors.Wrap(err, tomeerrors.ErrFetch, msg)
	}
	return tomeerrors.New(tomeerrors.ErrFetch, msg)
}

// parseGitURL extracts the host and repository path from a git URL.
// Supports HTTPS URLs and SSH shorthand (git@host:owner/repo.git).
func parseGitURL(rawURL string) (host, repoPath string, err error) {
	// SSH shorthand: git@github.com:owner/repo.git
	if idx := strings.Index(rawURL, ":"); idx > 0 && !strings.Contains(rawURL[:idx], "/") && !strings.Contains(rawURL, "://") {
		host = rawURL[:idx]
		if at := strings.Index(host, "@"); at >= 0 {
			host = host[at+1:]
		}
		repoPath = strings.TrimSuffix(rawURL[idx+1:], ".git")
		return host, repoPath, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	repoPath = strings.TrimPrefix(u.Path, "/")
	repoPath = strings.TrimSuffix(repoPath, ".git")
	return u.Host, repoPath, nil
}

// isCommitHash reports whether s is a full 40-character hex SHA-1 hash.
func isCommitHash(s string) bool {
	return len(s) == 40 && isHexString(s)
}

// isHexString reports whether s is non-empty and contains only hexadecimal characters.
func isHexString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
