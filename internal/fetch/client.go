// Package fetch issues outbound calls to named external sources,
// enforcing each source's minimum inter-call interval independently of
// the others.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apexbio/trials-cli/internal/resilience"
)

// Well-known source identifiers. Limiter state is keyed by these, so
// every caller hitting the same source shares one clock.
const (
	SourceChembl    = "chembl"
	SourcePubchem   = "pubchem"
	SourceUniprot   = "uniprot"
	SourceStringDB  = "stringdb"
	SourcePubmed    = "pubmed"
	SourceCTGov     = "ctgov"
	SourceAnthropic = "anthropic"
)

// DefaultIntervals returns the default per-source minimum call intervals.
func DefaultIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		SourceChembl:   50 * time.Millisecond,
		SourcePubchem:  100 * time.Millisecond,
		SourceUniprot:  100 * time.Millisecond,
		SourceStringDB: 100 * time.Millisecond,
		SourcePubmed:   100 * time.Millisecond,
		SourceCTGov:    100 * time.Millisecond,
	}
}

// Options configures the fetch client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// Intervals maps source id to minimum inter-call interval. Sources
	// absent from the map get DefaultInterval.
	Intervals map[string]time.Duration
	// DefaultInterval applies to sources without a configured interval.
	DefaultInterval time.Duration
	// Breakers optionally guards each source with a circuit breaker.
	Breakers *resilience.SourceBreakers
}

// Client throttles and classifies calls to external sources. One
// rate.Limiter per source id; waiting on one source never consumes
// another source's budget.
type Client struct {
	http      *http.Client
	opts      Options
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	intervals map[string]time.Duration
}

// NewClient creates a fetch client with per-source throttling.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "trials-cli/1.0"
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 100 * time.Millisecond
	}
	intervals := make(map[string]time.Duration)
	for k, v := range DefaultIntervals() {
		intervals[k] = v
	}
	for k, v := range opts.Intervals {
		intervals[k] = v
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:      opts,
		limiters:  make(map[string]*rate.Limiter),
		intervals: intervals,
	}
}

// limiterFor returns the shared limiter for a source, creating it on
// first use with that source's minimum interval.
func (c *Client) limiterFor(source string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[source]; ok {
		return lim
	}
	interval, ok := c.intervals[source]
	if !ok {
		interval = c.opts.DefaultInterval
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	c.limiters[source] = lim
	return lim
}

// Wait blocks until the source's minimum interval has elapsed since its
// last call. Exposed so non-HTTP fetchers (SQL, SDK clients) share the
// same per-source clock.
func (c *Client) Wait(ctx context.Context, source string) error {
	if err := c.limiterFor(source).Wait(ctx); err != nil {
		return eris.Wrapf(err, "fetch: rate limiter wait for %s", source)
	}
	return nil
}

// GetJSON performs a throttled GET against the source and decodes the
// response body into out. Failures come back classified:
// 404 is NotFound (valid empty), 429 RateLimited, 408 Timeout, 5xx and
// network faults Transient, other 4xx Fatal.
func (c *Client) GetJSON(ctx context.Context, source, url string, out any) error {
	do := func(ctx context.Context) error {
		return c.getJSON(ctx, source, url, out)
	}
	if c.opts.Breakers != nil {
		return c.opts.Breakers.Get(source).Execute(ctx, do)
	}
	return do(ctx)
}

func (c *Client) getJSON(ctx context.Context, source, url string, out any) error {
	if err := c.Wait(ctx, source); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resilience.NewFetchError(resilience.KindFatal, source, 0,
			eris.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := resilience.Classify(err)
		if kind == resilience.KindFatal {
			// Plain transport errors without a response are retryable.
			kind = resilience.KindTransient
		}
		return resilience.NewFetchError(kind, source, 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return resilience.NewFetchError(resilience.KindNotFound, source, resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := resilience.ClassifyHTTPStatus(resp.StatusCode)
		zap.L().Warn("fetch: non-2xx response",
			zap.String("source", source),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind.String()),
		)
		return resilience.NewFetchError(kind, source, resp.StatusCode,
			eris.Errorf("http %d from %s", resp.StatusCode, source))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewFetchError(resilience.KindTransient, source, resp.StatusCode,
			eris.Wrap(err, "read body"))
	}
	if out == nil || len(body) == 0 {
		// 204-style success carries nothing to decode.
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewFetchError(resilience.KindFatal, source, resp.StatusCode,
			eris.Wrapf(err, "decode %s response", source))
	}
	return nil
}
