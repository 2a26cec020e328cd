// Package tomefile reads tomefile.yaml, the bulk list of sources installed
// or uninstalled together.
//
// A tomefile looks like:
//
//	sources:
//	  - origin: https://github.com/org/scripts.git@v1.2
//	    platforms: [linux, macos]
//	  - origin: https://example.com/tools.zip
//	    verify_ssl: false
//	    folder: tools
package tomefile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/source"
)

// DefaultName is the conventional tomefile name.
const DefaultName = "tomefile.yaml"

//go:embed schema/tomefile.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tomefile.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("tomefile.schema.json")
	})
	return compiledSchema, compileErr
}

// Entry is one source of a tomefile.
type Entry struct {
	Origin string `json:"origin"`
	// VerifySSL is nil when unset, which means true.
	VerifySSL *bool    `json:"verify_ssl,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	Folder    string   `json:"folder,omitempty"`
	SHA256    string   `json:"sha256,omitempty"`
}

// File is a parsed tomefile.
type File struct {
	Sources []Entry
}

// Load reads and parses the tomefile at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tomeerrors.Wrapf(err, tomeerrors.ErrManifestParse, "Cannot read %s", path)
	}
	return Parse(data)
}

// Parse validates data and decodes every entry. Any malformed entry fails
// the whole file, so a batch never starts on a partially valid tomefile.
func Parse(data []byte) (*File, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrManifestParse, "Cannot parse tomefile")
	}

	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading tomefile schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrManifestParse, "Cannot parse tomefile")
	}
	if err := schema.Validate(doc); err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrManifestParse, "Invalid tomefile")
	}

	var raw struct {
		Sources []json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, tomeerrors.Wrap(err, tomeerrors.ErrManifestParse, "Cannot parse tomefile")
	}

	f := &File{Sources: make([]Entry, 0, len(raw.Sources))}
	for _, item := range raw.Sources {
		var bare string
		if json.Unmarshal(item, &bare) == nil {
			return nil, tomeerrors.Newf(tomeerrors.ErrManifestParse,
				"Cannot parse source '%s'. Entries must be mappings with an 'origin' key.", bare)
		}

		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			return nil, tomeerrors.Wrapf(err, tomeerrors.ErrManifestParse, "Cannot parse source %s", string(item))
		}
		if isEditable(e.Origin) {
			return nil, tomeerrors.Newf(tomeerrors.ErrManifestParse,
				"Editable installations are not allowed in a tomefile: '%s'", e.Origin)
		}
		f.Sources = append(f.Sources, e)
	}
	return f, nil
}

// Source resolves the entry's origin and applies its options.
func (e *Entry) Source() (*source.Source, error) {
	src, err := source.Parse(e.Origin)
	if err != nil {
		return nil, err
	}
	src.VerifySSL = e.VerifySSL == nil || *e.VerifySSL
	src.SHA256 = strings.ToLower(e.SHA256)
	src.Folder = e.Folder
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return src, nil
}

// MatchesPlatform reports whether the entry applies to goos. An entry
// without platforms applies everywhere.
func (e *Entry) MatchesPlatform(goos string) bool {
	if len(e.Platforms) == 0 {
		return true
	}
	for _, p := range e.Platforms {
		if normalizePlatform(p) == normalizePlatform(goos) {
			return true
		}
	}
	return false
}

var platformAliases = map[string]string{
	"macos": "darwin",
	"osx":   "darwin",
	"mac":   "darwin",
	"win32": "windows",
	"win":   "windows",
}

func normalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if alias, ok := platformAliases[p]; ok {
		return alias
	}
	return p
}

func isEditable(origin string) bool {
	o := strings.TrimSpace(origin)
	return o == "-e" || o == "--editable" ||
		strings.HasPrefix(o, "-e ") || strings.HasPrefix(o, "--editable ") ||
		strings.HasPrefix(o, "--editable=")
}
