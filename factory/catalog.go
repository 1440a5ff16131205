/*
Package factory turns YAML leave-type catalogs into leave.Policy values.

PURPOSE:
  Lets HR change entitlements and add leave types without a code change. The
  file is read once at startup; edits made through the API afterwards are
  persisted in the database and win over the file on the next start.

YAML SCHEMA:
  merge_defaults: true        # start from the built-in catalog
  leave_types:
    - code: DUTY
      name: Duty Leave
      capped: true
      entitlement: 10
    - code: STUDY
      name: Study Leave
      entitlement: 5
      capped: true
      aliases: [EXAM]
    - code: SHORT_LEAVE
      name: Short Leave
      capped: true
      monthly_cap: 3
      single_day: true

  With merge_defaults an entry replaces the built-in type of the same code.
  Without it the file is the whole catalog.

  Unknown keys are rejected so a typo like "entitlment" fails loudly.

SEE ALSO:
  - leave/policy.go: field meanings and defaults
  - config/config.go: catalog_file
*/
package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// CatalogYAML is the file representation of a catalog.
type CatalogYAML struct {
	MergeDefaults bool           `yaml:"merge_defaults"`
	LeaveTypes    []leave.Policy `yaml:"leave_types"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

type CatalogFactory struct {
	// Defaults is the base for merge_defaults files.
	Defaults []leave.Policy
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{Defaults: leave.DefaultPolicies()}
}

// LoadFile reads a catalog file. An empty path yields the defaults.
func (f *CatalogFactory) LoadFile(path string) ([]leave.Policy, error) {
	if path == "" {
		return f.defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	policies, err := f.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return policies, nil
}

// Parse decodes and validates a catalog document.
func (f *CatalogFactory) Parse(data []byte) ([]leave.Policy, error) {
	var doc CatalogYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var out []leave.Policy
	if doc.MergeDefaults {
		out = f.defaults()
	}
	index := make(map[leave.Type]int, len(out))
	for i, p := range out {
		index[p.Code] = i
	}
	seen := make(map[leave.Type]bool, len(doc.LeaveTypes))
	for i, p := range doc.LeaveTypes {
		p.Code = leave.NormalizeType(string(p.Code))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("leave_types[%d]: %w", i, err)
		}
		if seen[p.Code] {
			return nil, fmt.Errorf("leave_types[%d]: duplicate code %s", i, p.Code)
		}
		seen[p.Code] = true
		if j, ok := index[p.Code]; ok {
			out[j] = p
			continue
		}
		index[p.Code] = len(out)
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog defines no leave types")
	}
	return out, nil
}

// ToYAML renders policies as a standalone catalog file.
func (f *CatalogFactory) ToYAML(policies []leave.Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(CatalogYAML{LeaveTypes: policies}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *CatalogFactory) defaults() []leave.Policy {
	return append([]leave.Policy(nil), f.Defaults...)
}
