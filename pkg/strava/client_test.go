package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stridecoach/server/pkg/httputil"
)

func activitiesPage(start, n int) []Activity {
	page := make([]Activity, n)
	for i := range page {
		page[i] = Activity{
			ID:        int64(start + i),
			Name:      fmt.Sprintf("Run %d", start+i),
			Type:      "Run",
			StartDate: time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC),
		}
	}
	return page
}

func TestCollectStopsOnShortPage(t *testing.T) {
	pageSizes := []int{200, 200, 150}
	var pagesServed int

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/athlete/activities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 || page > len(pageSizes) {
			t.Fatalf("unexpected page %d", page)
		}
		pagesServed++
		json.NewEncoder(w).Encode(activitiesPage(page*1000, pageSizes[page-1]))
	}))
	defer ts.Close()

	c := NewClient(ts.Client())
	c.baseURL = ts.URL

	got, err := c.Collect(context.Background(), time.Now().Add(-24*time.Hour), 8, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 550 {
		t.Errorf("collected %d activities, want 550", len(got))
	}
	if pagesServed != 3 {
		t.Errorf("served %d pages, want 3 (must stop on short page before maxPages)", pagesServed)
	}
}

func TestCollectHonorsMaxPages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every page is full; only the ceiling stops the crawl.
		json.NewEncoder(w).Encode(activitiesPage(0, 10))
	}))
	defer ts.Close()

	c := NewClient(ts.Client())
	c.baseURL = ts.URL

	got, err := c.Collect(context.Background(), time.Time{}, 4, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 40 {
		t.Errorf("collected %d activities, want 40", len(got))
	}
}

func TestCollectPropagatesPageFailure(t *testing.T) {
	var page int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 2 {
			http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(activitiesPage(0, 5))
	}))
	defer ts.Close()

	c := NewClient(ts.Client())
	c.baseURL = ts.URL

	_, err := c.Collect(context.Background(), time.Time{}, 8, 5)
	var apiErr *httputil.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *httputil.APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
}

func TestUpdateDescription(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" || r.URL.Path != "/activities/99" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(Activity{ID: 99, Description: body["description"]})
	}))
	defer ts.Close()

	c := NewClient(ts.Client())
	c.baseURL = ts.URL

	updated, err := c.UpdateDescription(context.Background(), 99, "new text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Description != "new text" {
		t.Errorf("Description = %q, want %q", updated.Description, "new text")
	}
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var exchanges int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if r.FormValue("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.FormValue("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("token-%d", exchanges),
			"expires_in":   21600,
			"expires_at":   time.Now().Add(6 * time.Hour).Unix(),
		})
	}))
	defer ts.Close()

	src := NewCachedTokenSource(Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"})
	src.tokenURL = ts.URL
	src.httpClient = ts.Client()
	now := time.Now()
	src.now = func() time.Time { return now }

	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "token-1" {
		t.Errorf("AccessToken = %q, want token-1", tok.AccessToken)
	}

	// Second call inside the window reuses the cache.
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exchanges != 1 {
		t.Errorf("exchanges = %d, want 1", exchanges)
	}

	// Past the cache window a fresh exchange happens.
	now = now.Add(6 * time.Hour)
	tok, err = src.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "token-2" {
		t.Errorf("AccessToken = %q, want token-2", tok.AccessToken)
	}
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	src := NewCachedTokenSource(Credentials{})
	_, err := src.Token(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestTokenSourceRejectedExchange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad Request","errors":[{"field":"refresh_token","code":"invalid"}]}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	src := NewCachedTokenSource(Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "bad"})
	src.tokenURL = ts.URL
	src.httpClient = ts.Client()

	_, err := src.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

// staticSource implements TokenSource for transport tests.
type staticSource struct {
	tokens    []string
	refreshes int
}

func (s *staticSource) Token(context.Context) (*Token, error) {
	return &Token{AccessToken: s.tokens[0], Expiry: time.Now().Add(time.Hour)}, nil
}

func (s *staticSource) ForceRefresh(context.Context) (*Token, error) {
	s.refreshes++
	return &Token{AccessToken: s.tokens[1], Expiry: time.Now().Add(time.Hour)}, nil
}

func TestTransportRetriesOnceOn401(t *testing.T) {
	var seen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	src := &staticSource{tokens: []string{"stale", "fresh"}}
	client := &http.Client{Transport: &Transport{Source: src}}

	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if src.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", src.refreshes)
	}
	if len(seen) != 2 || seen[0] != "Bearer stale" || seen[1] != "Bearer fresh" {
		t.Errorf("unexpected auth sequence: %v", seen)
	}
}
