package ingest

import (
	"github.com/david/bid-tracker/internal/db"
)

// Setup loads the source registry (the built-in one when sourcesFile is empty) and returns a
// runner whose table adapter fetches through colly with the given defaults.
func Setup(store db.Store, sourcesFile string, fetch FetchConfig, opts ...RunnerOption) (*Runner, error) {
	registry, err := LoadRegistry(sourcesFile)
	if err != nil {
		return nil, err
	}
	fetcher := NewCollyFetcher().WithOverrides(fetch)
	return NewRunner(store, registry, NewDefaultAdapterFactory(fetcher), opts...), nil
}
