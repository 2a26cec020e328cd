package installer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/source"
)

// Installed is one entry of the cache or the editable registry.
type Installed struct {
	// Source is nil for a cache entry without a readable provenance record.
	Source *source.Source
	Path   string
	// Integrity and InstalledOn are copied from the provenance record.
	Integrity   string
	InstalledOn time.Time
	Editable    bool
	// Missing marks an editable whose directory no longer exists.
	Missing bool
}

// URI returns the source location, falling back to the path.
func (i *Installed) URI() string {
	if i.Source != nil {
		return i.Source.URI
	}
	return i.Path
}

// List returns the cache entries sorted by URI, followed by the editable
// installs in registration order.
func (inst *Installer) List() ([]Installed, error) {
	logger := logging.GetLogger("installer")

	names, err := inst.Store.Entries()
	if err != nil {
		return nil, err
	}

	var out []Installed
	for _, name := range names {
		item := Installed{Path: inst.Store.Path(name)}
		data, err := inst.Store.ReadFile(name, source.ProvenanceFile)
		if err == nil {
			var prov *source.Provenance
			prov, err = source.UnmarshalProvenance(data)
			if err == nil {
				src := prov.Source
				item.Source = &src
				item.Integrity = prov.Integrity
				item.InstalledOn = prov.InstalledOn
			}
		}
		if err != nil {
			logger.Debug().Err(err).Str("path", item.Path).Msg("Cache entry has no readable provenance")
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].URI() < out[b].URI() })

	records, err := inst.Editables.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		_, statErr := os.Stat(rec.SourcePath)
		out = append(out, Installed{
			Source:      &source.Source{URI: rec.SourcePath, Kind: source.KindEditable},
			Path:        rec.SourcePath,
			InstalledOn: rec.InstalledOn,
			Editable:    true,
			Missing:     statErr != nil,
		})
	}
	return out, nil
}

// Remove uninstalls an entry returned by List. Cache entries without a
// readable provenance record are removed by path.
func (inst *Installer) Remove(ctx context.Context, item Installed) (*UninstallResult, error) {
	if item.Source != nil {
		return inst.Uninstall(ctx, item.Source)
	}

	unlock, err := inst.Store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	name := filepath.Base(item.Path)
	if inst.Store.Path(name) != filepath.Clean(item.Path) {
		return nil, tomeerrors.Newf(tomeerrors.ErrUninstallSafety,
			"Attempted to uninstall from outside the cache directory: %s", item.Path)
	}
	if err := inst.Store.SafeRemove(name); err != nil {
		return nil, err
	}
	logger := logging.GetLogger("installer")
	logger.Info().Msgf("Removed unrecognized cache entry: %s", item.Path)
	return &UninstallResult{Path: item.Path}, nil
}
