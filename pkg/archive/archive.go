// Package archive unpacks zip and tar archives (optionally gzip, bzip2 or
// xz compressed) into a directory.
package archive

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
)

const dirPerm = 0o755

var extensions = []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tar", ".gz", ".tar.xz"}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zipMagic   = []byte("PK\x03\x04")
)

// IsArchive reports whether name carries a recognized archive extension.
func IsArchive(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Unpack extracts the archive at path into dest, creating dest if needed.
// The format is detected from the file content, not its name. Entries that
// would land outside dest are rejected.
func Unpack(ctx context.Context, path, dest string) error {
	if err := os.MkdirAll(dest, dirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Cannot open archive %s", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(8)

	if bytes.HasPrefix(head, zipMagic) {
		if err := unzip(ctx, f, dest); err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to extract %s", path)
		}
		return nil
	}

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Cannot read gzip stream in %s", path)
		}
		defer gz.Close()
		r = gz
	case bytes.HasPrefix(head, bzip2Magic):
		r = bzip2.NewReader(br)
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Cannot read xz stream in %s", path)
		}
		r = xr
	}

	if err := untar(ctx, r, dest); err != nil {
		if err == errNotTar {
			return tomeerrors.Newf(tomeerrors.ErrFetch, "Unsupported file type: %s", path)
		}
		return tomeerrors.Wrapf(err, tomeerrors.ErrFetch, "Failed to extract %s", path)
	}
	logger := logging.GetLogger("archive")
	logger.Debug().Str("archive", path).Str("dest", dest).Msg("Unpacked archive")
	return nil
}

// HoistFolder moves the contents of dest/folder up to dest and removes the
// then-empty folder.
func HoistFolder(dest, folder string) error {
	folder = strings.TrimRight(filepath.ToSlash(folder), "/")
	folderPath, err := within(dest, folder)
	if err != nil || folder == "" {
		return tomeerrors.Newf(tomeerrors.ErrFetch, "Folder '%s' not found in the archive.", folder)
	}
	if info, err := os.Stat(folderPath); err != nil || !info.IsDir() {
		return tomeerrors.Newf(tomeerrors.ErrFetch, "Folder '%s' not found in the archive.", folder)
	}

	// Park the folder under a unique name first so an entry inside it that
	// shares the folder's own name can be moved to the root.
	parked, err := os.MkdirTemp(dest, ".hoist-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(parked)

	held := filepath.Join(parked, "content")
	if err := os.Rename(folderPath, held); err != nil {
		return fmt.Errorf("moving %s: %w", folderPath, err)
	}

	entries, err := os.ReadDir(held)
	if err != nil {
		return err
	}
	for _, e := range entries {
		target := filepath.Join(dest, e.Name())
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(held, e.Name()), target); err != nil {
			return fmt.Errorf("moving %s: %w", e.Name(), err)
		}
	}
	return nil
}

// within joins name onto dest and fails if the result escapes dest.
func within(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}
