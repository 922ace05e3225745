package resolve

import (
	"fmt"
	"io"
	"os"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"

	"gopkg.in/yaml.v3"
)

// AliasTable maps known alternative names to a canonical label, per entity
// type. Lookups use normalized values.
//
// The YAML layout is
//
//	component:
//	  Hydraulic Pump: [hyd. pump, HP unit]
//	fault_code:
//	  E-101: [E101]
type AliasTable struct {
	byType map[common.EntityType]map[string]string
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{byType: map[common.EntityType]map[string]string{}}
}

// LoadAliasFile reads a YAML alias table from path.
func LoadAliasFile(path string) (*AliasTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alias file: %w", err)
	}
	defer f.Close()
	return LoadAliases(f)
}

// LoadAliases decodes a YAML alias table.
func LoadAliases(r io.Reader) (*AliasTable, error) {
	var raw map[string]map[string][]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}

	t := NewAliasTable()
	for typ, entries := range raw {
		for canonical, aliases := range entries {
			t.Add(common.EntityType(typ), canonical, aliases...)
		}
	}
	return t, nil
}

// Add registers aliases for canonical. The canonical label is an alias of
// itself.
func (t *AliasTable) Add(typ common.EntityType, canonical string, aliases ...string) {
	m, ok := t.byType[typ]
	if !ok {
		m = map[string]string{}
		t.byType[typ] = m
	}
	m[common.NormalizeValue(canonical)] = canonical
	for _, a := range aliases {
		m[common.NormalizeValue(a)] = canonical
	}
}

// Canonical returns the canonical label for a normalized value.
func (t *AliasTable) Canonical(typ common.EntityType, normalized string) (string, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.byType[typ][normalized]
	return c, ok
}

// Len returns the number of registered aliases over all types.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, m := range t.byType {
		n += len(m)
	}
	return n
}
