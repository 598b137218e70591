package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistry_Embedded(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	require.NotEmpty(t, reg.Sources)

	for _, src := range reg.Sources {
		assert.NotEmpty(t, src.URL, src.ID)
		assert.Equal(t, DefaultStrategy, src.Strategy, src.ID)
	}
	mesa, ok := reg.Source("mesa")
	require.True(t, ok)
	assert.Equal(t, "City of Mesa", mesa.Organization)
}

func TestLoadRegistry_FileWithEnv(t *testing.T) {
	t.Setenv("PORTAL_HOST", "bids.example.gov")
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - id: a
    name: Town A
    url: https://${PORTAL_HOST}/a
  - id: b
    organization: County B
    strategy: custom
    url: https://${PORTAL_HOST}/b
    disabled: true
    table:
      min_cells: 5
`), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, reg.Sources, 2)

	a := reg.Sources[0]
	assert.Equal(t, "https://bids.example.gov/a", a.URL)
	assert.Equal(t, "Town A", a.Organization)
	assert.Equal(t, DefaultStrategy, a.Strategy)
	assert.Equal(t, 3, a.Table.MinCells)

	b := reg.Sources[1]
	assert.Equal(t, "b", b.Name)
	assert.Equal(t, "County B", b.Organization)
	assert.Equal(t, 5, b.Table.MinCells)

	enabled := reg.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "a", enabled[0].ID)
}

func TestParseRegistry_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id": "sources:\n  - name: x\n",
		"duplicate":  "sources:\n  - id: a\n  - id: a\n",
		"bad yaml":   "sources: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSetup(t *testing.T) {
	runner, err := Setup(nil, "", FetchConfig{MaxRetries: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, runner.Registry().Enabled())
	_, err = runner.adapters.Get(DefaultStrategy)
	assert.NoError(t, err)

	_, err = Setup(nil, filepath.Join(t.TempDir(), "missing.yaml"), FetchConfig{})
	assert.Error(t, err)
}

func TestSaveRegistry_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - id: old\n"), 0o600))

	reg := &Registry{Sources: []SourceConfig{
		{ID: " mesa ", Organization: "City of Mesa", URL: "https://example.gov/mesa"},
		{ID: "yuma", URL: "https://example.gov/yuma", Disabled: true, Table: TableConfig{OpenOnly: true}},
	}}
	require.NoError(t, SaveRegistry(path, reg))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, loaded.Sources, 2)
	assert.Equal(t, "mesa", loaded.Sources[0].ID)
	assert.Equal(t, DefaultStrategy, loaded.Sources[0].Strategy)
	assert.Equal(t, "yuma", loaded.Sources[1].Organization)
	assert.True(t, loaded.Sources[1].Disabled)
	assert.True(t, loaded.Sources[1].Table.OpenOnly)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".sources-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSaveRegistry_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - id: keep\n"), 0o600))

	err := SaveRegistry(path, &Registry{Sources: []SourceConfig{{ID: "a"}, {ID: "a"}}})
	assert.ErrorIs(t, err, ErrInvalidRegistry)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sources:\n  - id: keep\n", string(data))

	assert.ErrorIs(t, SaveRegistry("", &Registry{}), ErrNoRegistryFile)
}

func TestRunner_SetRegistry(t *testing.T) {
	runner := NewRunner(nil, &Registry{Sources: []SourceConfig{{ID: "a"}}}, nil)
	runner.SetRegistry(&Registry{Sources: []SourceConfig{{ID: "b"}, {ID: "c"}}})

	enabled := runner.Registry().Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "b", enabled[0].ID)
}
