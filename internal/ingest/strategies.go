package ingest

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
)

var ErrUnknownStrategy = eris.New("strategy not found")

// Adapter collects the raw candidates of one source. Site-specific navigation lives behind it;
// whatever it returns goes through the same reconciliation path.
type Adapter interface {
	Collect(ctx context.Context, src SourceConfig) (Collection, error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, src SourceConfig) (Collection, error)

func (f AdapterFunc) Collect(ctx context.Context, src SourceConfig) (Collection, error) {
	return f(ctx, src)
}

// AdapterFactory maps strategy IDs (from sources.yaml) to implementations.
type AdapterFactory struct {
	adapters map[string]Adapter
}

func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{adapters: make(map[string]Adapter)}
}

// NewDefaultAdapterFactory registers the built-in strategies on top of fetcher.
func NewDefaultAdapterFactory(fetcher Fetcher) *AdapterFactory {
	f := NewAdapterFactory()
	f.Register(DefaultStrategy, &TableAdapter{Fetcher: fetcher})
	return f
}

func (f *AdapterFactory) Register(id string, adapter Adapter) {
	f.adapters[id] = adapter
}

func (f *AdapterFactory) Get(id string) (Adapter, error) {
	adapter, ok := f.adapters[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownStrategy, "strategy %q", id)
	}
	return adapter, nil
}

// Strategies lists the registered IDs.
func (f *AdapterFactory) Strategies() []string {
	ids := make([]string, 0, len(f.adapters))
	for id := range f.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
