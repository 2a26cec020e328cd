// Package editable keeps the list of directories installed in editable
// mode. Editable installs copy nothing; the registry is the only state.
package editable

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomecli/tome/pkg/store"
)

// FileName is the registry location relative to the cache root.
const FileName = "editables.json"

// Record is one editable install.
type Record struct {
	SourcePath  string    `json:"source_path"`
	InstalledOn time.Time `json:"installed_on"`
}

// Registry reads and rewrites the registry file. Callers serialize
// mutations through the store lock.
type Registry struct {
	Store store.Store
	// Now is the clock used for InstalledOn. Defaults to time.Now.
	Now func() time.Time
}

func New(s store.Store) *Registry {
	return &Registry{Store: s, Now: time.Now}
}

// List returns the records in registration order. A missing registry is
// empty.
func (r *Registry) List() ([]Record, error) {
	data, err := r.Store.ReadFile(FileName)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	return records, nil
}

// Lookup returns the record for path, if registered.
func (r *Registry) Lookup(path string) (*Record, error) {
	records, err := r.List()
	if err != nil {
		return nil, err
	}
	key := normalize(path)
	for i := range records {
		if normalize(records[i].SourcePath) == key {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Register appends path unless it is already present. added is false for a
// duplicate, which is not an error.
func (r *Registry) Register(path string) (added bool, err error) {
	records, err := r.List()
	if err != nil {
		return false, err
	}

	key := normalize(path)
	for _, rec := range records {
		if normalize(rec.SourcePath) == key {
			return false, nil
		}
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	records = append(records, Record{SourcePath: key, InstalledOn: now().UTC()})
	return true, r.save(records)
}

// Unregister removes path. removed is false when nothing matched.
func (r *Registry) Unregister(path string) (removed bool, err error) {
	records, err := r.List()
	if err != nil {
		return false, err
	}

	key := normalize(path)
	kept := records[:0]
	for _, rec := range records {
		if normalize(rec.SourcePath) == key {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	if !removed {
		return false, nil
	}
	return true, r.save(kept)
}

func (r *Registry) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", FileName, err)
	}
	if err := r.Store.WriteFile(append(data, '\n'), 0o644, FileName); err != nil {
		return fmt.Errorf("writing %s: %w", FileName, err)
	}
	return nil
}

// normalize compares paths by their absolute, cleaned form.
func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
