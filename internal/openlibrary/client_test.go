package openlibrary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/matsen/promise/internal/promise"
)

var _ promise.Catalog = (*Client)(nil)

const initialQueryResponse = `{
  "numFound": 3,
  "start": 0,
  "numFoundExact": true,
  "docs": [
    {"isbn": ["2880460794", "2880462703", "9782880460792", "9780823062010", "9782880462703", "0823062015"]},
    {"isbn": ["9781405892469", "1405892463"]},
    {"isbn": ["9788189999520", "8189999524"]}
  ],
  "q": "isbn:(9788189999520 OR 9781405892469 OR 9782723496117 OR 9783522182676 OR 9782880462703)"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		WithBaseURL(srv.URL),
		WithSearchRate(1000),
		WithAddInterval(0),
		WithUserAgent("promise-test"),
	)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	if c.baseURL != BaseURL {
		t.Errorf("baseURL = %s, want %s", c.baseURL, BaseURL)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if c.searchLimiter == nil || c.addLimiter == nil {
		t.Error("limiters should not be nil")
	}
}

func TestSearchURL(t *testing.T) {
	c := NewClient(WithBaseURL("http://ol.test/"))
	u, err := url.Parse(c.SearchURL([]string{"9788189999520", "9781405892469"}))
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/search.json" {
		t.Errorf("path = %s", u.Path)
	}
	if got := u.Query().Get("q"); got != "isbn:(9788189999520 OR 9781405892469)" {
		t.Errorf("q = %q", got)
	}
	if got := u.Query().Get("fields"); got != "isbn" {
		t.Errorf("fields = %q", got)
	}
}

func TestLookup(t *testing.T) {
	var gotUA, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(initialQueryResponse))
	})

	isbns := []string{"9788189999520", "9781405892469", "9782723496117", "9783522182676", "9782880462703"}
	found, err := c.Lookup(context.Background(), isbns)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	want := map[string]bool{
		"9788189999520": true,
		"9781405892469": true,
		"9782880462703": true,
	}
	if len(found) != len(want) {
		t.Errorf("Lookup() = %v, want %v", found, want)
	}
	for isbn := range want {
		if !found[isbn] {
			t.Errorf("Lookup() missing hit %s", isbn)
		}
	}
	// ISBNs returned by docs but not requested are not reported.
	if found["1405892463"] {
		t.Error("Lookup() reported an ISBN that was not requested")
	}
	if gotUA != "promise-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !strings.Contains(gotQuery, "9782723496117") {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestLookup_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})
	found, err := c.Lookup(context.Background(), nil)
	if err != nil || len(found) != 0 {
		t.Errorf("Lookup(nil) = %v, %v", found, err)
	}
}

func TestLookup_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		check     func(error) bool
	}{
		{"server error", http.StatusBadGateway, "", true, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadGateway
		}},
		{"rate limited", http.StatusTooManyRequests, "", true, IsRateLimited},
		{"bad json", http.StatusOK, "{not json", false, func(err error) bool {
			return errors.Is(err, ErrInvalidResponse)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Lookup(context.Background(), []string{"9781405892469"})
			if err == nil {
				t.Fatal("Lookup() expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, IsTransient(err), tt.transient)
			}
		})
	}
}

func TestLookup_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(WithBaseURL(base), WithSearchRate(1000))
	_, err := c.Lookup(context.Background(), []string{"9781405892469"})
	if !errors.Is(err, ErrNetworkError) {
		t.Errorf("Lookup() error = %v, want ErrNetworkError", err)
	}
	if !IsTransient(err) {
		t.Error("network errors should be transient")
	}
}

func TestAdd(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/isbn/9782723496117":
			http.Redirect(w, r, "/books/OL1M", http.StatusFound)
		case "/books/OL1M":
			_, _ = w.Write([]byte("<html>edition</html>"))
		case "/isbn/9783522182676":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	if err := c.Add(context.Background(), "9782723496117"); err != nil {
		t.Errorf("Add(accepted) error = %v", err)
	}
	if len(paths) != 2 || paths[1] != "/books/OL1M" {
		t.Errorf("requests = %v, want redirect followed", paths)
	}

	err := c.Add(context.Background(), "9783522182676")
	if !IsNotFound(err) {
		t.Errorf("Add(rejected) error = %v, want not found", err)
	}
	if !strings.Contains(err.Error(), "9783522182676") {
		t.Errorf("error should name the ISBN: %v", err)
	}

	err = c.Add(context.Background(), "9780306406157")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ISBN != "9780306406157" {
		t.Errorf("Add(server error) error = %v, want APIError with ISBN", err)
	}
}

func TestAdd_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Add(ctx, "9782723496117"); err == nil {
		t.Fatal("Add() expected error for cancelled context")
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 503, Message: "Service Unavailable", ISBN: "9781405892469"}
	want := "Open Library API error (status 503): Service Unavailable (isbn: 9781405892469)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
