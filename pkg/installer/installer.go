// Package installer ties source resolution, fetching, caching, editable
// registration and dependency provisioning together.
package installer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tomecli/tome/pkg/editable"
	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/provision"
	"github.com/tomecli/tome/pkg/source"
	"github.com/tomecli/tome/pkg/store"
)

type Installer struct {
	Store       store.Store
	Mapper      store.Mapper
	Fetchers    source.Fetchers
	Editables   *editable.Registry
	Provisioner *provision.Provisioner

	// GOOS is matched against tomefile platform filters. Defaults to
	// runtime.GOOS.
	GOOS string
	Now  func() time.Time
}

// New wires an Installer with the default mapper and fetch strategies. The
// editable registry follows the installer's clock.
func New(s store.Store, deps source.Deps, p *provision.Provisioner) *Installer {
	inst := &Installer{
		Store:       s,
		Mapper:      store.HashMapper{},
		Fetchers:    source.NewFetchers(deps),
		Editables:   editable.New(s),
		Provisioner: p,
	}
	inst.Editables.Now = inst.now
	return inst
}

// Options control dependency provisioning.
type Options struct {
	CreateEnv         bool
	ForceRequirements bool
}

// Result describes a completed install.
type Result struct {
	Source *source.Source
	// Path is the cache entry, or the live directory for editables.
	Path       string
	Provenance *source.Provenance
	// EnvPath is set when an isolated environment was created.
	EnvPath string
	// AlreadyEditable is true when an editable install found the path
	// registered already.
	AlreadyEditable bool
}

// Install fetches src into the cache, replacing any previous install of
// the same source, then provisions its dependencies. Editable sources are
// handed to InstallEditable.
func (inst *Installer) Install(ctx context.Context, src *source.Source, opts Options) (*Result, error) {
	if src.Kind == source.KindEditable {
		return inst.InstallEditable(ctx, src, opts)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Kind == source.KindFolder && within(src.URI, inst.Store.Root()) {
		return nil, tomeerrors.Newf(tomeerrors.ErrSourceFormat, "Cannot install a folder that contains the cache: %s", src.URI)
	}

	logger := logging.GetLogger("installer")
	defer logging.LogOperationStart(logger, "install "+src.URI)()

	unlock, err := inst.Store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	staging, err := inst.Store.Stage()
	if err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrStore, "Cannot prepare the cache")
	}
	defer func() {
		// A no-op once the staged tree has been moved into place.
		if err := inst.Store.SafeRemove(staging...); err != nil {
			logger.Warn().Err(err).Msg("Failed to clean up staging directory")
		}
	}()

	prov, err := inst.Fetchers.Fetch(ctx, src, inst.Store.Path(staging...))
	if err != nil {
		return nil, err
	}

	// Fetchers that produce nothing still leave an entry behind.
	if err := inst.Store.EnsureDir(staging...); err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrStore, "Cannot prepare the cache")
	}
	integrity, err := inst.Store.HashDir(staging...)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Failed to compute integrity hash for %s", src.URI)
	}
	prov.Integrity = integrity
	prov.InstalledOn = inst.now().UTC()

	data, err := prov.Marshal()
	if err != nil {
		return nil, err
	}
	if err := inst.Store.WriteFile(data, 0o644, append(staging, source.ProvenanceFile)...); err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Failed to write %s", source.ProvenanceFile)
	}

	dest := inst.Mapper.Segments(src)
	if err := inst.Store.Replace(staging, dest); err != nil {
		return nil, err
	}
	path := inst.Store.Path(dest...)
	logger.Info().Str("path", path).Msgf("Installed %s", src.URI)

	res := &Result{Source: src, Path: path, Provenance: prov}
	envPath, err := inst.provision(ctx, path, src.URI, opts)
	if err != nil {
		return res, err
	}
	res.EnvPath = envPath
	return res, nil
}

// InstallEditable provisions the live directory and registers it. Nothing
// is copied into the cache.
func (inst *Installer) InstallEditable(ctx context.Context, src *source.Source, opts Options) (*Result, error) {
	logger := logging.GetLogger("installer")

	path, err := filepath.Abs(src.URI)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrSourceFormat, "Could not determine the type for source: %s", src.URI)
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, tomeerrors.Newf(tomeerrors.ErrSourceFormat,
			"Editable installations require an existing local folder: %s", src.URI)
	}
	defer logging.LogOperationStart(logger, "install-editable "+path)()

	res := &Result{Source: src, Path: path}
	envPath, err := inst.provision(ctx, path, path, opts)
	if err != nil {
		return nil, err
	}
	res.EnvPath = envPath

	unlock, err := inst.Store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	added, err := inst.Editables.Register(path)
	if err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrStore, "Cannot update editable installations")
	}
	if added {
		logger.Info().Msgf("Configured editable installation for '%s'", path)
	} else {
		logger.Info().Msgf("The source '%s' is already configured as editable.", path)
		res.AlreadyEditable = true
	}
	return res, nil
}

func (inst *Installer) provision(ctx context.Context, dir, origin string, opts Options) (string, error) {
	if inst.Provisioner == nil {
		return "", nil
	}
	res, err := inst.Provisioner.Provision(ctx, dir, provision.Options{
		CreateEnv: opts.CreateEnv,
		Force:     opts.ForceRequirements,
		Origin:    origin,
	})
	if err != nil {
		return "", err
	}
	return res.EnvPath, nil
}

// UninstallResult describes a completed uninstall.
type UninstallResult struct {
	Source *source.Source
	// Path is the removed cache entry, or the unregistered live directory.
	Path     string
	Editable bool
}

// Uninstall removes an editable registration for src's absolute path if one
// exists, and otherwise deletes the cache entry src maps to.
func (inst *Installer) Uninstall(ctx context.Context, src *source.Source) (*UninstallResult, error) {
	logger := logging.GetLogger("installer")
	defer logging.LogOperationStart(logger, "uninstall "+src.URI)()

	unlock, err := inst.Store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Any kind can name an editable folder: a path containing ".git"
	// parses as a git source.
	path, removed, err := inst.unregister(src.URI)
	if err != nil {
		return nil, err
	}
	if removed {
		logger.Info().Msgf("Removed '%s' from editable installations.", src.URI)
		return &UninstallResult{Source: src, Path: path, Editable: true}, nil
	}

	dest := inst.Mapper.Segments(src)
	exists, err := inst.Store.Exists(dest...)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrStore, "Cannot check %s", inst.Store.Path(dest...))
	}
	if !exists {
		return nil, tomeerrors.Newf(tomeerrors.ErrNotInstalled, "Source '%s' is not installed or already uninstalled.", src.URI)
	}

	if err := inst.Store.SafeRemove(dest...); err != nil {
		return nil, err
	}
	removedDir := inst.Store.Path(dest...)
	logger.Info().Msgf("Uninstalled '%s' and removed directory: %s", src.URI, removedDir)
	return &UninstallResult{Source: src, Path: removedDir}, nil
}

// UninstallURI parses raw and uninstalls it. A path that no longer exists
// on disk can still be unregistered as an editable.
func (inst *Installer) UninstallURI(ctx context.Context, raw string) (*UninstallResult, error) {
	src, err := source.Parse(raw)
	if err == nil {
		return inst.Uninstall(ctx, src)
	}
	if raw == "" {
		return nil, err
	}

	unlock, lockErr := inst.Store.Lock()
	if lockErr != nil {
		return nil, lockErr
	}
	defer unlock()

	path, removed, uerr := inst.unregister(raw)
	if uerr != nil {
		return nil, uerr
	}
	if !removed {
		return nil, err
	}
	logger := logging.GetLogger("installer")
	logger.Info().Msgf("Removed '%s' from editable installations.", raw)
	return &UninstallResult{Source: &source.Source{URI: path, Kind: source.KindEditable}, Path: path, Editable: true}, nil
}

func (inst *Installer) unregister(uri string) (string, bool, error) {
	path, err := filepath.Abs(uri)
	if err != nil {
		return "", false, nil
	}
	removed, err := inst.Editables.Unregister(path)
	if err != nil {
		return "", false, tomeerrors.Wrap(err, tomeerrors.ErrStore, "Cannot update editable installations")
	}
	return path, removed, nil
}

// within reports whether path is dir or lies beneath it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (inst *Installer) now() time.Time {
	if inst.Now != nil {
		return inst.Now()
	}
	return time.Now()
}

func (inst *Installer) goos() string {
	if inst.GOOS != "" {
		return inst.GOOS
	}
	return runtime.GOOS
}
