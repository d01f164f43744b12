// Package schema holds the standard roster field catalog.
package schema

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/textsim"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Registry is an indexed, read-only collection of canonical fields.
type Registry struct {
	Version int
	fields  map[model.RecordType][]model.CanonicalField
	byName  map[model.RecordType]map[string]*model.CanonicalField
	byAlias map[model.RecordType]map[string]*model.CanonicalField
}

type catalogFile struct {
	Schema struct {
		Version int                    `yaml:"version"`
		Fields  []model.CanonicalField `yaml:"fields"`
	} `yaml:"schema"`
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := Parse(builtinCatalog)
	if err != nil {
		panic(eris.Wrap(err, "schema: builtin catalog"))
	}
	return r
}

// LoadFile reads a catalog from a YAML file with a top-level "schema" key.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes and indexes a YAML catalog.
func Parse(data []byte) (*Registry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "schema: parse catalog")
	}
	if len(f.Schema.Fields) == 0 {
		return nil, eris.New("schema: catalog has no fields")
	}
	return New(f.Schema.Version, f.Schema.Fields)
}

// New indexes fields. Field names must be unique per record type and no alias
// may resolve to two different fields.
func New(version int, fields []model.CanonicalField) (*Registry, error) {
	r := &Registry{
		Version: version,
		fields:  make(map[model.RecordType][]model.CanonicalField),
		byName:  make(map[model.RecordType]map[string]*model.CanonicalField),
		byAlias: make(map[model.RecordType]map[string]*model.CanonicalField),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, eris.New("schema: field without name")
		}
		if f.RecordType == "" {
			f.RecordType = model.RecordActive
		}
		if f.Type == "" {
			f.Type = model.TypeString
		}
		if !f.Type.Valid() {
			return nil, eris.Errorf("schema: field %s has unknown type %q", f.Name, f.Type)
		}
		r.fields[f.RecordType] = append(r.fields[f.RecordType], f)
	}

	for rt, list := range r.fields {
		names := make(map[string]*model.CanonicalField, len(list))
		aliases := make(map[string]*model.CanonicalField, len(list)*4)
		for i := range list {
			f := &list[i]
			if _, dup := names[f.Name]; dup {
				return nil, eris.Errorf("schema: duplicate field %s in %s", f.Name, rt)
			}
			names[f.Name] = f
			for _, c := range f.Candidates() {
				k := textsim.Key(c)
				if prev, ok := aliases[k]; ok && prev.Name != f.Name {
					return nil, eris.Errorf("schema: alias %q maps to both %s and %s", c, prev.Name, f.Name)
				}
				aliases[k] = f
			}
		}
		r.byName[rt] = names
		r.byAlias[rt] = aliases
	}
	return r, nil
}

// Fields returns the catalog for a record type in declaration order.
func (r *Registry) Fields(rt model.RecordType) []model.CanonicalField {
	return r.fields[rt]
}

// Required returns the names of the required fields for a record type.
func (r *Registry) Required(rt model.RecordType) []string {
	var out []string
	for _, f := range r.fields[rt] {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// ByName returns the field with the given canonical name, or nil.
func (r *Registry) ByName(rt model.RecordType, name string) *model.CanonicalField {
	return r.byName[rt][name]
}

// FindByAlias resolves a header to a field by exact (folded) name or alias.
func (r *Registry) FindByAlias(rt model.RecordType, header string) *model.CanonicalField {
	return r.byAlias[rt][textsim.Key(header)]
}

// RecordTypes lists the record types present in the catalog.
func (r *Registry) RecordTypes() []model.RecordType {
	out := make([]model.RecordType, 0, len(r.fields))
	for rt := range r.fields {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
