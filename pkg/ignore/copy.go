package ignore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomecli/tome/pkg/logging"
)

const dirPerm = 0o755

// Stats counts the files visited by CopyTree.
type Stats struct {
	Copied  int
	Ignored int
}

// CopyTree copies src into dst, honoring src/.tomeignore. Directory names
// are tested against the patterns and prune their whole subtree; ".git" is
// always pruned. Files are tested by their path relative to src. Only
// directories holding copied files are created, but dst itself always is.
// Symlinks to files are copied as the files they point to.
func CopyTree(src, dst string) (Stats, error) {
	return copyTree(src, dst, false)
}

// CopyTreeWithin is CopyTree for content fetched from elsewhere: symlinks
// that resolve outside src are skipped instead of followed.
func CopyTreeWithin(src, dst string) (Stats, error) {
	return copyTree(src, dst, true)
}

func copyTree(src, dst string, contained bool) (Stats, error) {
	logger := logging.GetLogger("ignore.copy")
	var stats Stats

	root := src
	if contained {
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return stats, fmt.Errorf("resolving %s: %w", src, err)
		}
		root = resolved
	}

	m, err := Load(src)
	if err != nil {
		return stats, err
	}

	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return stats, fmt.Errorf("creating %s: %w", dst, err)
	}

	logger.Debug().Str("from", src).Str("to", dst).Msg("Copying files")

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" || m.Match(d.Name()) {
				logger.Trace().Str("dir", rel).Msg("Pruned directory")
				return filepath.SkipDir
			}
			return nil
		}

		if m.Match(rel) {
			logger.Trace().Msgf("Ignored %s", filepath.ToSlash(rel))
			stats.Ignored++
			return nil
		}

		if contained && d.Type()&fs.ModeSymlink != 0 && !linksInside(root, path) {
			logger.Debug().Str("path", rel).Msg("Skipping symlink that points outside the source")
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			if d.Type()&fs.ModeSymlink != 0 {
				logger.Debug().Str("path", rel).Msg("Skipping dangling symlink")
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() {
			// Symlinks to directories, sockets and the like are not copied.
			logger.Debug().Str("path", rel).Msg("Skipping non-regular file")
			return nil
		}

		if err := copyFile(path, filepath.Join(dst, rel), info.Mode().Perm()); err != nil {
			return err
		}
		logger.Debug().Msgf("Copied %s", filepath.ToSlash(rel))
		stats.Copied++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("copying %s: %w", src, err)
	}

	logger.Info().Msgf("Copied %d files. Ignored %d files.", stats.Copied, stats.Ignored)
	return stats, nil
}

// linksInside reports whether the symlink at path resolves under root.
// Dangling links count as inside; the caller's Stat skips them.
func linksInside(root, path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(root, resolved)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
