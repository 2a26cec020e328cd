package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errNotTar = errors.New("not a tar archive")

func untar(ctx context.Context, r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			if first {
				return errNotTar
			}
			return nil
		}
		if err != nil {
			if first {
				return errNotTar
			}
			return err
		}
		first = false

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlinkWithin(dest, target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := entryPath(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := copyLocal(source, target); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax metadata carry nothing worth installing.
		}
	}
}

func unzip(ctx context.Context, f *os.File, dest string) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("reading zip: %w", err)
	}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(dest, zf.Name)
		if err != nil {
			return err
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return err
		}
		perm := zf.Mode().Perm()
		if perm == 0 {
			perm = 0o644
		}
		err = writeFile(target, rc, perm)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// entryPath resolves an archive entry name under dest. Names that escape
// dest, or that pass through a symlink created by an earlier entry, are
// rejected.
func entryPath(dest, name string) (string, error) {
	target, err := within(dest, name)
	if err != nil {
		return "", err
	}
	if throughLink(dest, target) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}

// throughLink reports whether any existing component of target below dest,
// target included, is a symlink.
func throughLink(dest, target string) bool {
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return true
	}
	cur := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			// The rest does not exist yet and will be created as real directories.
			return false
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

// symlinkWithin creates target -> linkname. Absolute links, links that
// leave dest and links that traverse another symlink are skipped.
func symlinkWithin(dest, target, linkname string) error {
	if filepath.IsAbs(linkname) || !linkStaysWithin(dest, filepath.Dir(target), linkname) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}
	return os.Symlink(linkname, target)
}

// linkStaysWithin walks linkname one component at a time from dir, which
// must be a real directory under dest.
func linkStaysWithin(dest, dir, linkname string) bool {
	cur := dir
	for _, part := range strings.Split(filepath.FromSlash(linkname), string(filepath.Separator)) {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
			if info, err := os.Lstat(cur); err == nil && info.Mode()&os.ModeSymlink != 0 {
				return false
			}
		}
		rel, err := filepath.Rel(dest, cur)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

func copyLocal(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	return writeFile(target, in, info.Mode().Perm())
}
