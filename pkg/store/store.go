// Package store is the root-scoped cache directory. Every path it hands out
// is addressed by segments under the root, and every deletion goes through
// SafeRemove.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
)

const (
	dirPerm       = 0o755
	hashPrefix    = "sha256:"
	stagingPrefix = ".staging-"
	lockFile      = ".tome.lock"
	// HomeEnv overrides the default cache root.
	HomeEnv = "TOME_HOME"
)

type Store interface {
	// Root returns the absolute cache root.
	Root() string
	// Path returns the absolute filesystem path for the given segments
	// joined under the store root. Does not create or verify the path.
	Path(segments ...string) string
	// Exists reports whether the path at the given segments exists.
	Exists(segments ...string) (bool, error)
	// EnsureDir creates the directory at segments, including parents.
	EnsureDir(segments ...string) error
	// SafeRemove deletes the tree at segments. It refuses to delete the
	// root itself or anything that resolves outside of it. A missing
	// target is not an error.
	SafeRemove(segments ...string) error
	// Stage reserves a fresh staging location under the root. The
	// directory itself is not created.
	Stage() ([]string, error)
	// Replace moves the staged tree to dest, replacing whatever dest held.
	Replace(staging, dest []string) error
	// Entries lists the top-level entry directories, skipping hidden ones
	// such as staging directories.
	Entries() ([]string, error)
	// Lock takes an exclusive advisory lock on the root. The returned func
	// releases it.
	Lock() (func() error, error)
	// HashDir computes a "sha256:<hex>" integrity hash over all regular
	// file contents in the directory at segments, walking recursively in
	// sorted order for determinism.
	HashDir(segments ...string) (string, error)
	// WriteFile atomically writes data to the file at segments, creating
	// parent directories.
	WriteFile(data []byte, perm os.FileMode, segments ...string) error
	// ReadFile reads the file at segments.
	ReadFile(segments ...string) ([]byte, error)
}

// New returns a store rooted at root, made absolute.
func New(root string) Store {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &store{root: filepath.Clean(root)}
}

// DefaultRoot is $TOME_HOME, or "tome" under the XDG data home.
func DefaultRoot() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	return filepath.Join(xdg.DataHome, "tome")
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Root() string {
	return s.root
}

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) Exists(segments ...string) (bool, error) {
	_, err := os.Lstat(s.Path(segments...))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *store) EnsureDir(segments ...string) error {
	return os.MkdirAll(s.Path(segments...), dirPerm)
}

// contained returns target's path relative to the root, failing if target
// is the root or lies outside of it.
func (s *store) contained(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", tomeerrors.Newf(tomeerrors.ErrUninstallSafety,
			"Attempted to uninstall from outside the cache directory: %s", target)
	}
	if rel == "." {
		return "", tomeerrors.New(tomeerrors.ErrUninstallSafety,
			"Attempted to uninstall the entire cache base folder, operation cancelled.")
	}
	return rel, nil
}

func (s *store) SafeRemove(segments ...string) error {
	target := s.Path(segments...)
	if _, err := s.contained(s.root, target); err != nil {
		return err
	}

	if _, err := os.Lstat(target); os.IsNotExist(err) {
		return nil
	}

	// Check again with links resolved, so a symlinked parent cannot
	// redirect the removal.
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Cannot resolve cache root %s", s.root)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Dir(target))
	if err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Cannot resolve %s", target)
	}
	if _, err := s.contained(root, filepath.Join(resolved, filepath.Base(target))); err != nil {
		return err
	}

	logger := logging.GetLogger("store")
	logger.Debug().Str("path", target).Msg("Removing")
	if err := os.RemoveAll(target); err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Failed to remove %s", target)
	}
	return nil
}

func (s *store) Stage() ([]string, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return []string{stagingPrefix + uuid.NewString()}, nil
}

func (s *store) Replace(staging, dest []string) error {
	if _, err := s.contained(s.root, s.Path(dest...)); err != nil {
		return err
	}
	if err := s.SafeRemove(dest...); err != nil {
		return err
	}
	if len(dest) > 1 {
		if err := s.EnsureDir(dest[:len(dest)-1]...); err != nil {
			return err
		}
	}
	if err := os.Rename(s.Path(staging...), s.Path(dest...)); err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Failed to move staged files into %s", s.Path(dest...))
	}
	return nil
}

func (s *store) Entries() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *store) Lock() (func() error, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	fl := flock.New(s.Path(lockFile))
	if err := fl.Lock(); err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Cannot lock cache %s", s.root)
	}
	return fl.Unlock, nil
}

func (s *store) HashDir(segments ...string) (string, error) {
	dir := s.Path(segments...)
	h := sha256.New()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return "", err
		}
		h.Write([]byte(f))
		h.Write(data)
	}

	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *store) WriteFile(data []byte, perm os.FileMode, segments ...string) error {
	target := s.Path(segments...)
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+filepath.Base(target)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *store) ReadFile(segments ...string) ([]byte, error) {
	return os.ReadFile(s.Path(segments...))
}
