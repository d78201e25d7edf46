// Package naver wraps the Naver Shopping search API. It is the only
// external price source the tracker talks to.
package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricewatch/internal/normalize"
)

// Distinct unrecoverable source conditions. Any of them aborts the batch
// that hit them; completed work stays committed.
var (
	ErrAuth        = eris.New("naver: authentication failed")
	ErrRateLimited = eris.New("naver: rate limited")
	ErrServer      = eris.New("naver: server error")

	// ErrNoMatch is a per-item refresh failure, not a source outage.
	ErrNoMatch = eris.New("naver: no matching product")
)

// IsUnavailable reports whether err means the search source is unusable for
// the rest of the run.
func IsUnavailable(err error) bool {
	return eris.Is(err, ErrAuth) || eris.Is(err, ErrRateLimited) || eris.Is(err, ErrServer)
}

// MaxDisplay is the page size cap the API enforces.
const MaxDisplay = 100

// Options configures the client.
type Options struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
	RatePerSec   float64
}

// Client calls the Naver Shopping open API. Every call waits on a shared
// rate limiter and is bounded by the HTTP client timeout. The client never
// retries; retry policy belongs to the scheduling harness.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://openapi.naver.com/v1/search/shop.json"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 8
	}
	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

type searchResponse struct {
	Total int              `json:"total"`
	Items []map[string]any `json:"items"`
}

// Search requests one page of shopping results. Records come back raw; the
// caller runs them through the normalizer.
func (c *Client) Search(ctx context.Context, query, category string, display, start int, sort string) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "naver: rate limiter wait")
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("display", strconv.Itoa(display))
	q.Set("start", strconv.Itoa(start))
	if sort != "" {
		q.Set("sort", sort)
	}
	if category != "" {
		q.Set("category", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "naver: build request")
	}
	req.Header.Set("X-Naver-Client-Id", c.opts.ClientID)
	req.Header.Set("X-Naver-Client-Secret", c.opts.ClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(ErrServer, "request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, eris.Wrapf(ErrAuth, "status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, eris.Wrap(ErrRateLimited, "status 429")
	case resp.StatusCode >= 500:
		return nil, eris.Wrapf(ErrServer, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Wrapf(ErrServer, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(ErrServer, "read body: %v", err)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrapf(ErrServer, "malformed response: %v", err)
	}

	zap.L().Debug("naver: search page",
		zap.String("query", query),
		zap.Int("start", start),
		zap.Int("display", display),
		zap.Int("returned", len(sr.Items)),
	)
	return sr.Items, nil
}

// LookupPrice re-queries the source for an item's current price. It searches
// by title, prefers the record whose catalog id matches productURL, and
// falls back to the first record that normalizes cleanly.
func (c *Client) LookupPrice(ctx context.Context, query, productURL, category string) (int, error) {
	records, err := c.Search(ctx, query, category, 10, 1, "sim")
	if err != nil {
		return 0, err
	}

	wantID, idErr := normalize.ExternalID(productURL)

	var fallback *normalize.Product
	for _, rec := range records {
		p, err := normalize.Normalize(rec)
		if err != nil {
			continue
		}
		if idErr == nil && p.ExternalID == wantID {
			return p.Price, nil
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		return fallback.Price, nil
	}
	return 0, eris.Wrapf(ErrNoMatch, "query %q", query)
}

// String renders the options for debug logging without the secret.
func (o Options) String() string {
	return fmt.Sprintf("naver{base=%s timeout=%s rate=%.1f/s}", o.BaseURL, o.Timeout, o.RatePerSec)
}
