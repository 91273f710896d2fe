// Package openlibrary is a client for the parts of the Open Library API used
// to check and fill promise items: ISBN search and import-by-ISBN.
package openlibrary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the Open Library base URL.
	BaseURL = "https://openlibrary.org"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultSearchRate is the default number of search requests per second.
	DefaultSearchRate = 2.0

	// DefaultAddInterval is the default minimum gap between add submissions.
	DefaultAddInterval = 500 * time.Millisecond

	// searchLimit caps the docs returned per search. An ISBN can match more
	// than one work, so this is well above the largest batch.
	searchLimit = 1000

	// maxErrorBody limits how much of an error response is read.
	maxErrorBody = 4096
)

// Client is a rate-limited HTTP client for Open Library.
type Client struct {
	httpClient    *http.Client
	searchLimiter *rate.Limiter
	addLimiter    *rate.Limiter
	baseURL       string
	userAgent     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithSearchRate sets the search requests allowed per second.
func WithSearchRate(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.searchLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithAddInterval sets the minimum gap between add submissions. Zero
// disables pacing.
func WithAddInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.addLimiter = newIntervalLimiter(d)
	}
}

// NewClient creates a new Open Library client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		searchLimiter: rate.NewLimiter(rate.Limit(DefaultSearchRate), 1),
		addLimiter:    newIntervalLimiter(DefaultAddInterval),
		baseURL:       BaseURL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func newIntervalLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// searchResponse is the subset of /search.json used here.
type searchResponse struct {
	Docs []struct {
		ISBN []string `json:"isbn"`
	} `json:"docs"`
}

// SearchURL builds the search query for a batch of ISBNs.
func (c *Client) SearchURL(isbns []string) string {
	q := url.Values{}
	q.Set("q", "isbn:("+strings.Join(isbns, " OR ")+")")
	q.Set("fields", "isbn")
	q.Set("limit", strconv.Itoa(searchLimit))
	return c.baseURL + "/search.json?" + q.Encode()
}

// Lookup reports which of the given ISBNs Open Library already has. Every
// ISBN listed by any matching document counts, so ISBN-10 and ISBN-13 forms
// of the same edition are both recognized.
func (c *Client) Lookup(ctx context.Context, isbns []string) (map[string]bool, error) {
	found := make(map[string]bool, len(isbns))
	if len(isbns) == 0 {
		return found, nil
	}

	if err := c.searchLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.get(ctx, c.SearchURL(isbns))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp, ""); err != nil {
		return nil, err
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: parsing search results: %v", ErrInvalidResponse, err)
	}

	returned := make(map[string]struct{})
	for _, doc := range result.Docs {
		for _, isbn := range doc.ISBN {
			returned[isbn] = struct{}{}
		}
	}
	for _, isbn := range isbns {
		if _, ok := returned[isbn]; ok {
			found[isbn] = true
		}
	}

	return found, nil
}

// Add asks Open Library to import the edition for an ISBN by requesting
// /isbn/{isbn}. Open Library answers with the edition (following a redirect)
// when it has or can import the book, and 404 when it cannot.
func (c *Client) Add(ctx context.Context, isbn string) error {
	if err := c.addLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.get(ctx, c.baseURL+"/isbn/"+url.PathEscape(isbn))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return checkHTTPErrors(resp, isbn)
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	return resp, nil
}
