package ingest

import (
	"context"
	"io"
	"time"

	"github.com/david/bid-tracker/internal/models"
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Collection is what an adapter gathered from one source: the raw candidates and the name of
// the extraction strategy that produced them.
type Collection struct {
	Candidates []models.Candidate
	Strategy   string
}
