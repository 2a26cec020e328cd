package source

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProvenanceFile is the name of the provenance record written at the root
// of every non-editable cache entry.
const ProvenanceFile = "tome_source.json"

// Provenance records where a cache entry came from, so it can be inspected
// later without re-resolving the source.
type Provenance struct {
	Source
	// Integrity is a "sha256:<hex>" digest over the installed files.
	Integrity   string    `json:"integrity,omitempty"`
	InstalledOn time.Time `json:"installed_on"`
}

// Marshal renders the record as indented JSON.
func (p *Provenance) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshaling provenance for %s: %w", p.URI, err)
	}
	return append(data, '\n'), nil
}

// UnmarshalProvenance decodes a record written by Marshal.
func UnmarshalProvenance(data []byte) (*Provenance, error) {
	p := &Provenance{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decoding provenance record: %w", err)
	}
	return p, nil
}
