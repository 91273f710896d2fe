// Package archive fetches promise items (donation manifests) from archive.org.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/promise/internal/isbn"
	"github.com/matsen/promise/internal/promise"
)

const (
	// BaseURL is the archive.org base URL.
	BaseURL = "https://archive.org"

	// Collection holds the promise items.
	Collection = "protodonationitems"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// RateLimit is the number of requests per second sent to archive.org.
	RateLimit = 2.0
)

// Common errors returned by the archive client.
var (
	// ErrNotFound indicates the item does not exist.
	ErrNotFound = errors.New("promise item not found on archive.org")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with archive.org")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from archive.org")
)

// Client is a rate-limited HTTP client for the archive.org search and
// metadata APIs.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
	now        func() time.Time
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

// WithClock sets the time source used for RetrievedAt (for testing).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithRateLimit sets the requests allowed per second.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a new archive.org client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(RateLimit), 1),
		baseURL:    BaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse is the subset of advancedsearch output used here.
type searchResponse struct {
	Response struct {
		Docs []struct {
			Identifier string `json:"identifier"`
		} `json:"docs"`
	} `json:"response"`
}

// metadataResponse is the subset of /metadata/{id} used here.
type metadataResponse struct {
	Created   int64           `json:"created"`
	Metadata  json.RawMessage `json:"metadata"`
	ExtraMeta *struct {
		ISBN []json.RawMessage `json:"isbn"`
	} `json:"extrameta"`
}

// LatestIdentifiers returns the identifiers of the count most recently
// added promise items, newest first.
func (c *Client) LatestIdentifiers(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	q := url.Values{}
	q.Set("q", "collection:"+Collection)
	q.Add("fl[]", "identifier")
	q.Add("sort[]", "addeddate desc")
	q.Set("rows", strconv.Itoa(count))
	q.Set("page", "1")
	q.Set("output", "json")

	var result searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/advancedsearch.php?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("listing promise items: %w", err)
	}

	ids := make([]string, 0, len(result.Response.Docs))
	for _, doc := range result.Response.Docs {
		if id := strings.TrimSpace(doc.Identifier); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FetchItem downloads a promise item's manifest and resolves its ISBNs.
// Vendor SKUs, duplicates and malformed values are dropped.
func (c *Client) FetchItem(ctx context.Context, id string) (promise.PromiseItem, error) {
	var meta metadataResponse
	if err := c.getJSON(ctx, c.baseURL+"/metadata/"+url.PathEscape(id), &meta); err != nil {
		return promise.PromiseItem{}, fmt.Errorf("fetching %s: %w", id, err)
	}

	// archive.org answers unknown identifiers with an empty object.
	if meta.Created == 0 && len(meta.Metadata) == 0 && meta.ExtraMeta == nil {
		return promise.PromiseItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var raw []json.RawMessage
	if meta.ExtraMeta != nil {
		raw = meta.ExtraMeta.ISBN
	}

	return promise.PromiseItem{
		ID:          id,
		ISBNs:       isbn.FromManifest(raw),
		RetrievedAt: c.now().UTC(),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrInvalidResponse, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// IdentifierFromURL returns the promise item identifier from a details or
// metadata URL, or the input itself when it is already a bare identifier.
func IdentifierFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty promise item URL")
	}

	path := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		path = u.Path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	id := segments[len(segments)-1]
	if id == "" {
		return "", fmt.Errorf("no promise item identifier in %q", raw)
	}
	return id, nil
}
