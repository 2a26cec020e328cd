package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tomecli/tome/pkg/source"
)

// Mapper chooses the cache location of a source.
type Mapper interface {
	Segments(src *source.Source) []string
}

// HashMapper maps a source to a single directory "<name>-<hash>" where
// hash is derived from the source identity. Equal identities share a
// directory; distinct ones never do in practice.
type HashMapper struct{}

var _ Mapper = HashMapper{}

const hashLen = 16

func (HashMapper) Segments(src *source.Source) []string {
	sum := sha256.Sum256([]byte(src.Identity()))
	return []string{src.Name() + "-" + hex.EncodeToString(sum[:])[:hashLen]}
}
