package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
)

func TestFolderFetch(t *testing.T) {
	existingDir := t.TempDir()
	os.MkdirAll(filepath.Join(existingDir, "greetings"), 0o755)
	os.WriteFile(filepath.Join(existingDir, "greetings", "hello.py"), []byte("print('hi')"), 0o644)
	os.MkdirAll(filepath.Join(existingDir, ".git"), 0o755)
	os.WriteFile(filepath.Join(existingDir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644)

	tests := map[string]struct {
		path    string
		wantErr bool
	}{
		"valid directory": {
			path: existingDir,
		},
		"nonexistent path": {
			path:    filepath.Join(t.TempDir(), "does-not-exist"),
			wantErr: true,
		},
		"file not directory": {
			path: func() string {
				f := filepath.Join(t.TempDir(), "afile")
				os.WriteFile(f, []byte("hi"), 0o644)
				return f
			}(),
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "dest")
			src := &Source{URI: tc.path, Kind: KindFolder}

			prov, err := (&FolderFetcher{}).Fetch(context.Background(), src, dest)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr = %v", err, tc.wantErr)
			}

			if tc.wantErr {
				if !tomeerrors.IsErrorCode(err, tomeerrors.ErrFetch) {
					t.Errorf("error code = %s, want %s", tomeerrors.GetErrorCode(err), tomeerrors.ErrFetch)
				}
				return
			}
			if prov.URI != tc.path {
				t.Errorf("provenance URI = %q, want %q", prov.URI, tc.path)
			}
			if prov.Commit != "" {
				t.Errorf("Commit = %q, want empty for a folder source", prov.Commit)
			}
			if _, err := os.Stat(filepath.Join(dest, "greetings", "hello.py")); err != nil {
				t.Errorf("hello.py not copied: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dest, ".git")); !os.IsNotExist(err) {
				t.Errorf(".git copied into destination")
			}
		})
	}
}

func TestFetchersDispatch(t *testing.T) {
	f := NewFetchers(Deps{})

	for _, kind := range []Kind{KindGit, KindURL, KindFolder, KindFile} {
		if _, ok := f[kind]; !ok {
			t.Errorf("no fetcher registered for %s", kind)
		}
	}

	_, err := f.Fetch(context.Background(), &Source{URI: "/tmp/x", Kind: KindEditable}, t.TempDir())
	if !tomeerrors.IsErrorCode(err, tomeerrors.ErrFetch) {
		t.Errorf("Fetch(editable) error = %v, want %s", err, tomeerrors.ErrFetch)
	}
}

func TestSubfolder(t *testing.T) {
	root := t.TempDir()

	tests := map[string]struct {
		folder  string
		want    string
		wantErr bool
	}{
		"simple":         {folder: "scripts", want: filepath.Join(root, "scripts")},
		"nested":         {folder: "a/b", want: filepath.Join(root, "a", "b")},
		"trailing slash": {folder: "scripts/", want: filepath.Join(root, "scripts")},
		"dot dot inside": {folder: "a/../b", want: filepath.Join(root, "b")},
		"escape":         {folder: "../x", wantErr: true},
		"parent":         {folder: "..", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := subfolder(root, tc.folder)
			if (err != nil) != tc.wantErr {
				t.Fatalf("subfolder(%q) error = %v, wantErr = %v", tc.folder, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("subfolder(%q) = %q, want %q", tc.folder, got, tc.want)
			}
		})
	}
}
