package ingest

import (
	"embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// ErrNoRegistryFile is returned when the built-in source list is in use and there is no file
// to write to.
var ErrNoRegistryFile = eris.New("no sources file configured")

// ErrInvalidRegistry marks a source list with missing or duplicate ids.
var ErrInvalidRegistry = eris.New("invalid source list")

// DefaultStrategy is used by sources that do not name one.
const DefaultStrategy = "html_table"

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// FetchConfig overrides the fetcher defaults for one source.
type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DelayMillis    int    `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
	UserAgent      string `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

func (f FetchConfig) IsZero() bool {
	return f == FetchConfig{}
}

// TableConfig drives the html_table strategy.
type TableConfig struct {
	// RowSelector is tried before the built-in fallbacks.
	RowSelector string `yaml:"row_selector,omitempty" json:"row_selector,omitempty"`
	// MinCells is the number of cells a row needs to be read. Default 3.
	MinCells int `yaml:"min_cells,omitempty" json:"min_cells,omitempty"`
	// OpenOnly drops rows whose status cell is present and not "Open".
	OpenOnly bool `yaml:"open_only,omitempty" json:"open_only,omitempty"`
}

// SourceConfig defines a single procurement portal.
type SourceConfig struct {
	ID           string      `yaml:"id" json:"id"`
	Name         string      `yaml:"name" json:"name"`
	Organization string      `yaml:"organization" json:"organization"`
	Strategy     string      `yaml:"strategy" json:"strategy"`
	URL          string      `yaml:"url" json:"url"`
	Disabled     bool        `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Notes        string      `yaml:"notes,omitempty" json:"notes,omitempty"`
	Fetch        FetchConfig `yaml:"fetch,omitempty" json:"fetch,omitempty"`
	Table        TableConfig `yaml:"table,omitempty" json:"table,omitempty"`
}

// LoadRegistry reads the source list from path, or the embedded default when path is empty.
// ${VAR} references are expanded from the environment before parsing.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %q", path)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML, fills defaults and validates it.
func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, eris.Wrap(err, "registry: parse")
	}

	if err := reg.normalize(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// normalize fills defaults and rejects missing or duplicate ids.
func (r *Registry) normalize() error {
	seen := make(map[string]bool, len(r.Sources))
	for i := range r.Sources {
		src := &r.Sources[i]
		src.ID = strings.TrimSpace(src.ID)
		if src.ID == "" {
			return eris.Wrapf(ErrInvalidRegistry, "source %d has no id", i)
		}
		if seen[src.ID] {
			return eris.Wrapf(ErrInvalidRegistry, "duplicate source id %q", src.ID)
		}
		seen[src.ID] = true

		if src.Name == "" {
			src.Name = src.ID
		}
		if src.Organization == "" {
			src.Organization = src.Name
		}
		if src.Strategy == "" {
			src.Strategy = DefaultStrategy
		}
		if src.Table.MinCells <= 0 {
			src.Table.MinCells = 3
		}
	}
	return nil
}

// SaveRegistry validates reg, fills its defaults and replaces the file at path with it.
// Values are written as given; ${VAR} references of the previous file are not preserved.
func SaveRegistry(path string, reg *Registry) error {
	if path == "" {
		return ErrNoRegistryFile
	}
	if err := reg.normalize(); err != nil {
		return err
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return eris.Wrap(err, "registry: marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sources-*.yaml")
	if err != nil {
		return eris.Wrap(err, "registry: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "registry: write")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "registry: close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "registry: replace %q", path)
	}
	return nil
}

// Enabled returns the sources to ingest, in file order. The order is the checkpoint index.
func (r *Registry) Enabled() []SourceConfig {
	out := make([]SourceConfig, 0, len(r.Sources))
	for _, src := range r.Sources {
		if !src.Disabled {
			out = append(out, src)
		}
	}
	return out
}

// Source looks up a source by id.
func (r *Registry) Source(id string) (SourceConfig, bool) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}
