package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

func byCode(policies []leave.Policy) map[leave.Type]leave.Policy {
	out := make(map[leave.Type]leave.Policy, len(policies))
	for _, p := range policies {
		out[p.Code] = p
	}
	return out
}

func TestParse_MergeDefaults(t *testing.T) {
	// GIVEN: a file capping DUTY and adding STUDY on top of the defaults
	doc := []byte(`
merge_defaults: true
leave_types:
  - code: duty
    name: Duty Leave
    capped: true
    entitlement: 10
  - code: STUDY
    name: Study Leave
    entitlement: 5.5
    capped: true
    aliases: [exam]
`)

	// WHEN
	policies, err := factory.NewCatalogFactory().Parse(doc)

	// THEN
	require.NoError(t, err)
	got := byCode(policies)
	assert.Len(t, got, 6)
	assert.True(t, got[leave.TypeDuty].Capped)
	assert.Equal(t, 10.0, got[leave.TypeDuty].Entitlement)
	assert.Equal(t, []string{"exam"}, got["STUDY"].Aliases)
	assert.Equal(t, 21.0, got[leave.TypeCasual].Entitlement)

	catalog, err := leave.NewCatalog(policies...)
	require.NoError(t, err)
	study, ok := catalog.Get("EXAM")
	require.True(t, ok)
	assert.Equal(t, leave.Type("STUDY"), study.Code)
}

func TestParse_StandaloneCatalog(t *testing.T) {
	doc := []byte(`
leave_types:
  - code: SHORT_LEAVE
    name: Short Leave
    capped: true
    monthly_cap: 3
    single_day: true
`)

	policies, err := factory.NewCatalogFactory().Parse(doc)

	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, 3, policies[0].MonthlyCap)
	assert.True(t, policies[0].YearlyTotal().Equal(leave.Policy{MonthlyCap: 3, SingleDay: true}.YearlyTotal()))
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"typo", "leave_types:\n  - code: X\n    name: X\n    entitlment: 3\n", "entitlment"},
		{"invalid policy", "leave_types:\n  - code: X\n    name: X\n    entitlement: 1.2\n", "leave_types[0]"},
		{"duplicate", "leave_types:\n  - {code: X, name: X}\n  - {code: x, name: Y}\n", "duplicate code X"},
		{"empty", "", "no leave types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewCatalogFactory().Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFile_RoundTrip(t *testing.T) {
	f := factory.NewCatalogFactory()

	defaults, err := f.LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, leave.DefaultPolicies(), defaults)

	data, err := f.ToYAML(defaults)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := f.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaults, loaded)

	_, err = f.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
