package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/provision"
	"github.com/tomecli/tome/pkg/source"
	"github.com/tomecli/tome/pkg/store"
	"github.com/tomecli/tome/pkg/tomefile"
)

const fakeCommit = "0123456789abcdef0123456789abcdef01234567"

// fakeGit answers git commands without a network. A clone of any URI
// containing "missing" fails like an unreachable remote.
type fakeGit struct {
	files map[string]string
}

func (f *fakeGit) Run(_ context.Context, args []string, cwd string) (int, string, error) {
	if len(args) < 2 || args[0] != "git" {
		return 0, "", nil
	}
	switch args[1] {
	case "clone":
		if strings.Contains(args[2], "missing") {
			return 128, "fatal: repository not found", nil
		}
		for name, content := range f.files {
			p := filepath.Join(cwd, filepath.FromSlash(name))
			os.MkdirAll(filepath.Dir(p), 0o755)
			os.WriteFile(p, []byte(content), 0o644)
		}
	case "rev-list":
		return 0, fakeCommit + "\n", nil
	}
	return 0, "", nil
}

// recordingRunner captures provisioning commands.
type recordingRunner struct {
	calls [][]string
	code  int
}

func (r *recordingRunner) Run(_ context.Context, args []string, _ string) (int, string, error) {
	r.calls = append(r.calls, args)
	return r.code, "boom", nil
}

type fixedMapper struct {
	segments []string
}

func (m fixedMapper) Segments(*source.Source) []string { return m.segments }

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, *source.Source, string) (*source.Provenance, error) {
	return nil, tomeerrors.New(tomeerrors.ErrFetch, "network down")
}

func newInstaller(t *testing.T) *Installer {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "cache"))
	inst := New(s, source.Deps{
		Runner:  &fakeGit{files: map[string]string{"ops/deploy.py": "print('deploy')"}},
		TempDir: t.TempDir(),
	}, &provision.Provisioner{
		Runner: &recordingRunner{},
		Getenv: func(string) string { return "" },
	})
	inst.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return inst
}

// writeTree creates files (relative path -> content) under a new temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func parse(t *testing.T, uri string) *source.Source {
	t.Helper()
	src, err := source.Parse(uri)
	require.NoError(t, err)
	return src
}

func stagingDirs(t *testing.T, s store.Store) []string {
	t.Helper()
	entries, _ := os.ReadDir(s.Root())
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestInstallFolder(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{
		"greetings/hello.py":  "print('hi')",
		"tests/test_hello.py": "assert True",
		".tomeignore":         "tests/*\n",
	})

	res, err := inst.Install(context.Background(), parse(t, dir), Options{})
	require.NoError(t, err)

	rel, err := filepath.Rel(inst.Store.Root(), res.Path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
	assert.NotEqual(t, ".", rel)

	assert.FileExists(t, filepath.Join(res.Path, "greetings", "hello.py"))
	assert.NoFileExists(t, filepath.Join(res.Path, "tests", "test_hello.py"))
	assert.NoFileExists(t, filepath.Join(res.Path, ".tomeignore"))

	data, err := os.ReadFile(filepath.Join(res.Path, source.ProvenanceFile))
	require.NoError(t, err)
	prov, err := source.UnmarshalProvenance(data)
	require.NoError(t, err)
	assert.Equal(t, dir, prov.URI)
	assert.Equal(t, source.KindFolder, prov.Kind)
	assert.True(t, strings.HasPrefix(prov.Integrity, "sha256:"))
	assert.Equal(t, inst.Now(), prov.InstalledOn)
	assert.Empty(t, stagingDirs(t, inst.Store))
}

func TestInstallGit(t *testing.T) {
	inst := newInstaller(t)
	src := parse(t, "https://github.com/org/scripts.git@v1.0")

	res, err := inst.Install(context.Background(), src, Options{})
	require.NoError(t, err)

	assert.Equal(t, fakeCommit, src.Commit)
	assert.FileExists(t, filepath.Join(res.Path, "ops", "deploy.py"))
	assert.Equal(t, "v1.0", res.Provenance.Version)
	assert.Equal(t, fakeCommit, res.Provenance.Commit)
}

func TestReinstallReplacesEntry(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{"a.py": "a", "b.py": "b"})

	first, err := inst.Install(context.Background(), parse(t, dir), Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.py")))
	second, err := inst.Install(context.Background(), parse(t, dir), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.FileExists(t, filepath.Join(second.Path, "a.py"))
	assert.NoFileExists(t, filepath.Join(second.Path, "b.py"))

	names, err := inst.Store.Entries()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestDistinctSourcesDistinctEntries(t *testing.T) {
	inst := newInstaller(t)

	a, err := inst.Install(context.Background(), parse(t, "https://github.com/org/scripts.git@main"), Options{})
	require.NoError(t, err)
	b, err := inst.Install(context.Background(), parse(t, "https://github.com/org/scripts.git@dev"), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
}

func TestFailedFetchKeepsPreviousInstall(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{"a.py": "a"})

	res, err := inst.Install(context.Background(), parse(t, dir), Options{})
	require.NoError(t, err)

	inst.Fetchers[source.KindFolder] = failingFetcher{}
	_, err = inst.Install(context.Background(), parse(t, dir), Options{})
	require.Error(t, err)
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrFetch))

	assert.FileExists(t, filepath.Join(res.Path, "a.py"))
	assert.Empty(t, stagingDirs(t, inst.Store))
}

func TestInstallFailedGitLeavesNothing(t *testing.T) {
	inst := newInstaller(t)

	_, err := inst.Install(context.Background(), parse(t, "https://github.com/org/missing.git"), Options{})
	require.Error(t, err)
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrFetch))
	assert.Contains(t, err.Error(), "repository not found")

	names, err := inst.Store.Entries()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, stagingDirs(t, inst.Store))
}

func TestInstallFolderContainingCache(t *testing.T) {
	inst := newInstaller(t)
	parent := filepath.Dir(inst.Store.Root())
	require.NoError(t, inst.Store.EnsureDir())

	_, err := inst.Install(context.Background(), parse(t, parent), Options{})
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrSourceFormat))
}

func TestInstallProvisioning(t *testing.T) {
	tests := map[string]struct {
		opts     Options
		code     int
		wantErr  string
		wantCmds int
	}{
		"not in a virtual environment": {
			opts:    Options{},
			wantErr: "You must be within a virtual environment",
		},
		"forced": {
			opts:     Options{ForceRequirements: true},
			wantCmds: 1,
		},
		"create env": {
			opts:     Options{CreateEnv: true},
			wantCmds: 2,
		},
		"pip fails": {
			opts:     Options{ForceRequirements: true},
			code:     1,
			wantErr:  "pip install failed",
			wantCmds: 1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			inst := newInstaller(t)
			runner := &recordingRunner{code: tc.code}
			inst.Provisioner.Runner = runner
			dir := writeTree(t, map[string]string{"a.py": "a", provision.ManifestFile: "requests\n"})

			res, err := inst.Install(context.Background(), parse(t, dir), tc.opts)
			assert.Len(t, runner.calls, tc.wantCmds)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrProvision))
				assert.Contains(t, err.Error(), tc.wantErr)
				// the files are installed even though provisioning failed
				require.NotNil(t, res)
				assert.FileExists(t, filepath.Join(res.Path, "a.py"))
				return
			}
			require.NoError(t, err)
			if tc.opts.CreateEnv {
				assert.Equal(t, filepath.Join(res.Path, provision.EnvDir), res.EnvPath)
			}
		})
	}
}

func TestEditableRoundTrip(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{"hello.py": "print('hi')"})

	src := parse(t, dir)
	src.Kind = source.KindEditable

	res, err := inst.Install(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.Equal(t, dir, res.Path)
	assert.False(t, res.AlreadyEditable)

	res, err = inst.Install(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.True(t, res.AlreadyEditable)

	// nothing is copied for editables
	names, err := inst.Store.Entries()
	require.NoError(t, err)
	assert.Empty(t, names)

	un, err := inst.Uninstall(context.Background(), parse(t, dir))
	require.NoError(t, err)
	assert.True(t, un.Editable)
	assert.DirExists(t, dir)

	records, err := inst.Editables.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = inst.Uninstall(context.Background(), parse(t, dir))
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrNotInstalled))
}

func TestEditableRequiresFolder(t *testing.T) {
	inst := newInstaller(t)
	src := &source.Source{URI: "https://github.com/org/scripts.git", Kind: source.KindEditable}

	_, err := inst.Install(context.Background(), src, Options{})
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrSourceFormat))
}

func TestUninstall(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{"a.py": "a"})

	res, err := inst.Install(context.Background(), parse(t, dir), Options{})
	require.NoError(t, err)

	un, err := inst.Uninstall(context.Background(), parse(t, dir))
	require.NoError(t, err)
	assert.False(t, un.Editable)
	assert.Equal(t, res.Path, un.Path)
	assert.NoDirExists(t, res.Path)
	assert.DirExists(t, inst.Store.Root())
}

func TestUninstallNotInstalled(t *testing.T) {
	inst := newInstaller(t)
	dir := t.TempDir()

	_, err := inst.Uninstall(context.Background(), parse(t, dir))
	require.Error(t, err)
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrNotInstalled))
	assert.Equal(t, "Source '"+dir+"' is not installed or already uninstalled.", err.Error())
}

func TestUninstallSafety(t *testing.T) {
	tests := map[string]struct {
		segments []string
		wantMsg  string
	}{
		"maps to the cache root": {
			segments: nil,
			wantMsg:  "Attempted to uninstall the entire cache base folder, operation cancelled.",
		},
		"maps outside the cache root": {
			segments: []string{".."},
			wantMsg:  "Attempted to uninstall from outside the cache directory",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			inst := newInstaller(t)
			require.NoError(t, inst.Store.EnsureDir("keep"))
			inst.Mapper = fixedMapper{segments: tc.segments}

			_, err := inst.Uninstall(context.Background(), parse(t, "https://example.com/tools.zip"))
			require.Error(t, err)
			assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrUninstallSafety))
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.DirExists(t, inst.Store.Path("keep"))
		})
	}
}

func TestUninstallURIMissingEditable(t *testing.T) {
	inst := newInstaller(t)
	dir := writeTree(t, map[string]string{"a.py": "a"})
	src := parse(t, dir)
	src.Kind = source.KindEditable
	_, err := inst.Install(context.Background(), src, Options{})
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	un, err := inst.UninstallURI(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, un.Editable)

	_, err = inst.UninstallURI(context.Background(), dir)
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrSourceFormat))
}

func TestInstallManifestIsolation(t *testing.T) {
	inst := newInstaller(t)
	inst.GOOS = "linux"
	good := writeTree(t, map[string]string{"a.py": "a"})

	f := &tomefile.File{Sources: []tomefile.Entry{
		{Origin: "https://github.com/org/missing.git"},
		{Origin: good},
		{Origin: "https://github.com/org/scripts.git", Platforms: []string{"windows"}},
		{Origin: "/definitely/not/here"},
	}}

	summary := inst.InstallManifest(context.Background(), f, Options{})
	require.Len(t, summary.Outcomes, 4)

	installed := summary.Installed()
	require.Len(t, installed, 1)
	assert.Equal(t, good, installed[0].Origin)

	skipped := summary.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, "https://github.com/org/scripts.git", skipped[0].Origin)

	failed := summary.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "https://github.com/org/missing.git", failed[0].Origin)
	assert.True(t, tomeerrors.IsErrorCode(failed[0].Err, tomeerrors.ErrFetch))
	assert.True(t, tomeerrors.IsErrorCode(failed[1].Err, tomeerrors.ErrSourceFormat))

	require.Error(t, summary.Err())
	assert.Contains(t, summary.Err().Error(), "2 of 4 sources failed")
}

func TestInstallManifestGitDetail(t *testing.T) {
	inst := newInstaller(t)
	f := &tomefile.File{Sources: []tomefile.Entry{{Origin: "https://github.com/org/scripts.git@v2"}}}

	summary := inst.InstallManifest(context.Background(), f, Options{})
	require.NoError(t, summary.Err())
	require.Len(t, summary.Installed(), 1)
	assert.Equal(t, "v2 @ "+fakeCommit[:12], summary.Installed()[0].Detail)
}

func TestUninstallManifest(t *testing.T) {
	inst := newInstaller(t)
	inst.GOOS = "darwin"
	a := writeTree(t, map[string]string{"a.py": "a"})
	b := writeTree(t, map[string]string{"b.py": "b"})

	f := &tomefile.File{Sources: []tomefile.Entry{
		{Origin: a},
		{Origin: b, Platforms: []string{"macos"}},
	}}
	require.NoError(t, inst.InstallManifest(context.Background(), f, Options{}).Err())

	summary := inst.UninstallManifest(context.Background(), f)
	assert.Len(t, summary.Installed(), 2)
	assert.NoError(t, summary.Err())

	// a second run finds nothing to remove
	summary = inst.UninstallManifest(context.Background(), f)
	assert.Len(t, summary.Skipped(), 2)
	assert.Empty(t, summary.Failed())
}

func TestList(t *testing.T) {
	inst := newInstaller(t)
	folder := writeTree(t, map[string]string{"a.py": "a"})
	live := writeTree(t, map[string]string{"b.py": "b"})

	_, err := inst.Install(context.Background(), parse(t, folder), Options{})
	require.NoError(t, err)
	_, err = inst.Install(context.Background(), parse(t, "https://github.com/org/scripts.git"), Options{})
	require.NoError(t, err)

	ed := parse(t, live)
	ed.Kind = source.KindEditable
	_, err = inst.Install(context.Background(), ed, Options{})
	require.NoError(t, err)

	// an entry without provenance is still listed
	require.NoError(t, inst.Store.EnsureDir("orphan"))

	items, err := inst.List()
	require.NoError(t, err)
	require.Len(t, items, 4)

	last := items[len(items)-1]
	assert.True(t, last.Editable)
	assert.Equal(t, live, last.URI())
	assert.False(t, last.Missing)

	var uris []string
	for _, item := range items[:3] {
		assert.False(t, item.Editable)
		uris = append(uris, item.URI())
	}
	assert.Contains(t, uris, folder)
	assert.Contains(t, uris, "https://github.com/org/scripts.git")
	assert.Contains(t, uris, inst.Store.Path("orphan"))
}

func TestRemoveListedEntries(t *testing.T) {
	inst := newInstaller(t)
	folder := writeTree(t, map[string]string{"a.py": "a"})
	live := writeTree(t, map[string]string{"b.py": "b"})

	_, err := inst.Install(context.Background(), parse(t, folder), Options{})
	require.NoError(t, err)
	ed := parse(t, live)
	ed.Kind = source.KindEditable
	_, err = inst.Install(context.Background(), ed, Options{})
	require.NoError(t, err)
	require.NoError(t, inst.Store.EnsureDir("orphan"))

	items, err := inst.List()
	require.NoError(t, err)
	require.Len(t, items, 3)

	for _, item := range items {
		_, err := inst.Remove(context.Background(), item)
		require.NoError(t, err, item.URI())
	}

	items, err = inst.List()
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.DirExists(t, live)
}

func TestRemoveRejectsForeignPath(t *testing.T) {
	inst := newInstaller(t)
	outside := writeTree(t, map[string]string{"keep.txt": "keep"})

	_, err := inst.Remove(context.Background(), Installed{Path: outside})
	require.Error(t, err)
	assert.True(t, tomeerrors.IsErrorCode(err, tomeerrors.ErrUninstallSafety))
	assert.FileExists(t, filepath.Join(outside, "keep.txt"))
}

func TestUninstallEditableWithGitLikePath(t *testing.T) {
	inst := newInstaller(t)
	dir := filepath.Join(t.TempDir(), "tools.github")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := inst.Install(context.Background(), &source.Source{URI: dir, Kind: source.KindEditable}, Options{})
	require.NoError(t, err)

	// the path reads as a git source once the editable flag is gone
	assert.Equal(t, source.KindGit, parse(t, dir).Kind)

	res, err := inst.UninstallURI(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Editable)
	assert.Equal(t, dir, res.Path)

	records, err := inst.Editables.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEditableUsesInstallerClock(t *testing.T) {
	inst := newInstaller(t)
	fixed := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	inst.Now = func() time.Time { return fixed }
	dir := writeTree(t, map[string]string{"hello.py": "print('hi')"})

	_, err := inst.Install(context.Background(), &source.Source{URI: dir, Kind: source.KindEditable}, Options{})
	require.NoError(t, err)

	records, err := inst.Editables.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].InstalledOn.Equal(fixed), "got %s", records[0].InstalledOn)
}
