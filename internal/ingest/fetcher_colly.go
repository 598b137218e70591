package ingest

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// CollyFetcher implements Fetcher with a one-shot Colly collector per request.
// It provides rate limiting and retries.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	IgnoreRobotsTxt   bool
	MaxBodySize       int // bytes, 0 = unlimited
	CacheDir          string
}

// NewCollyFetcher creates a CollyFetcher with sensible defaults.
func NewCollyFetcher() *CollyFetcher {
	return &CollyFetcher{
		UserAgent:         defaultUserAgent,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       1 * time.Second,
		RandomDelayFactor: 0.5,
		IgnoreRobotsTxt:   true,
		MaxBodySize:       10 * 1024 * 1024,
	}
}

// WithOverrides returns a copy of f with the non-zero fields of cfg applied.
func (f *CollyFetcher) WithOverrides(cfg FetchConfig) *CollyFetcher {
	out := *f
	if cfg.TimeoutSeconds > 0 {
		out.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.MaxRetries > 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.DelayMillis > 0 {
		out.DomainDelay = time.Duration(cfg.DelayMillis) * time.Millisecond
	}
	if cfg.UserAgent != "" {
		out.UserAgent = cfg.UserAgent
	}
	return &out
}

func (f *CollyFetcher) buildCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	}
	if f.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	if f.CacheDir != "" {
		opts = append(opts, colly.CacheDir(f.CacheDir))
	}

	c := colly.NewCollector(opts...)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	})
	if f.RequestTimeout > 0 {
		c.SetRequestTimeout(f.RequestTimeout)
	}
	return c
}

// Fetch implements the Fetcher interface. Non-2xx responses are retried and then reported as
// errors.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return nil, eris.Wrapf(err, "fetch: invalid url %q", targetURL)
	}

	c := f.buildCollector(ctx)

	var (
		result   *FetchedDocument
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries < f.MaxRetries && ctx.Err() == nil {
			r.Request.Ctx.Put("retries", retries+1)
			zap.L().Debug("retrying fetch",
				zap.String("url", r.Request.URL.String()),
				zap.Int("attempt", retries+1),
				zap.Error(err))
			time.Sleep(time.Duration(retries+1) * f.DomainDelay)
			if retryErr := r.Request.Retry(); retryErr != nil {
				fetchErr = eris.Wrapf(retryErr, "fetch %s: retry", targetURL)
			}
			return
		}
		fetchErr = eris.Wrapf(err, "fetch %s: status %d after %d retries", targetURL, r.StatusCode, retries)
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		fetchErr = eris.Wrapf(err, "fetch %s", targetURL)
	}
	c.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if result != nil {
		return result, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, eris.Errorf("fetch %s: no response received", targetURL)
}
