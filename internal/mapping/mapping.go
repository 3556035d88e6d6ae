// Package mapping projects raw upstream records into storable entities using
// gjson paths, and decides material equality by comparing attribute hashes.
package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// Rules describe how a record payload becomes entity attributes
type Rules struct {
	// Fields maps an attribute name to the gjson path it is read from
	Fields map[string]string
	// Required lists attributes that must be present in every payload
	Required []string
	// Golden lists the attributes kept in the tenant-less projection of a
	// group. Empty means all attributes.
	Golden []string
}

type field struct {
	name     string
	path     string
	required bool
}

// Mapper implements pkgsync.Mapper over gjson paths
type Mapper struct {
	fields []field
	golden map[string]bool
}

var _ pkgsync.Mapper = (*Mapper)(nil)

// New validates rules and builds a Mapper
func New(rules Rules) (*Mapper, error) {
	if len(rules.Fields) == 0 {
		return nil, fmt.Errorf("at least one field mapping is required")
	}

	required := make(map[string]bool, len(rules.Required))
	for _, name := range rules.Required {
		if _, ok := rules.Fields[name]; !ok {
			return nil, fmt.Errorf("required field %q has no mapping", name)
		}
		required[name] = true
	}

	names := slices.Sorted(maps.Keys(rules.Fields))
	fields := make([]field, 0, len(names))
	for _, name := range names {
		path := strings.TrimSpace(rules.Fields[name])
		if path == "" {
			return nil, fmt.Errorf("field %q has an empty path", name)
		}
		fields = append(fields, field{name: name, path: path, required: required[name]})
	}

	var golden map[string]bool
	if len(rules.Golden) > 0 {
		golden = make(map[string]bool, len(rules.Golden))
		for _, name := range rules.Golden {
			if _, ok := rules.Fields[name]; !ok {
				return nil, fmt.Errorf("golden field %q has no mapping", name)
			}
			golden[name] = true
		}
	}

	return &Mapper{fields: fields, golden: golden}, nil
}

// Project maps one record to its per-tenant entity
func (m *Mapper) Project(rec pkgsync.Record) (*pkgsync.Entity, error) {
	attrs, err := m.extract(rec)
	if err != nil {
		return nil, err
	}
	return &pkgsync.Entity{Key: rec.Key, Tenant: rec.Tenant, Attributes: attrs, Hash: Hash(attrs)}, nil
}

// Golden maps the first record of a group to the group's tenant-less projection
func (m *Mapper) Golden(rec pkgsync.Record) (*pkgsync.Entity, error) {
	attrs, err := m.extract(rec)
	if err != nil {
		return nil, err
	}
	if m.golden != nil {
		maps.DeleteFunc(attrs, func(name, _ string) bool { return !m.golden[name] })
	}
	return &pkgsync.Entity{Key: rec.Key, Golden: true, Attributes: attrs, Hash: Hash(attrs)}, nil
}

// Equal compares attribute hashes, computing them when missing
func (*Mapper) Equal(existing, candidate *pkgsync.Entity) bool {
	if existing == nil || candidate == nil {
		return existing == candidate
	}
	return hashOf(existing) == hashOf(candidate)
}

func (m *Mapper) extract(rec pkgsync.Record) (map[string]string, error) {
	if rec.Key == "" {
		return nil, syncerr.Validationf("record has no natural key")
	}
	if !gjson.ValidBytes(rec.Payload) {
		return nil, syncerr.Validationf("payload of %q is not valid JSON", rec.Key)
	}

	attrs := make(map[string]string, len(m.fields))
	for _, f := range m.fields {
		res := gjson.GetBytes(rec.Payload, f.path)
		if !res.Exists() || res.Type == gjson.Null {
			if f.required {
				return nil, syncerr.Validationf("required field %q (%s) is missing", f.name, f.path)
			}
			continue
		}
		attrs[f.name] = res.String()
	}
	return attrs, nil
}

func hashOf(e *pkgsync.Entity) string {
	if e.Hash != "" {
		return e.Hash
	}
	return Hash(e.Attributes)
}

// Hash returns the hex sha256 of the attributes in key order
func Hash(attrs map[string]string) string {
	h := sha256.New()
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		fmt.Fprintf(h, "%d:%s=%d:%s\n", len(k), k, len(attrs[k]), attrs[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
