package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stridecoach/server/pkg/httputil"
)

// DefaultBaseURL is the Strava v3 API base.
const DefaultBaseURL = "https://www.strava.com/api/v3"

// DefaultPageSize is the page size used when crawling activities.
const DefaultPageSize = 200

// Client is an API client for the Strava v3 API. Authentication is expected
// to be handled by the injected HTTP client (see NewHTTPClient).
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: DefaultBaseURL,
		client:  httpClient,
	}
}

// doRequest performs an HTTP request and surfaces 4xx/5xx as *httputil.APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if err := httputil.ErrorFromResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListActivities retrieves one page of the athlete's activities, newest
// first, filtered server-side to those starting after the given time.
// A zero after time means no filter.
func (c *Client) ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]Activity, error) {
	query := url.Values{}
	if !after.IsZero() {
		query.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.doRequest(ctx, "GET", "/athlete/activities", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return activities, nil
}

// Collect paginates through activities after the given cutoff, accumulating
// until a short page (no more data) or the page ceiling is hit. A failed page
// fetch discards everything; there is no partial-success crawl.
func (c *Client) Collect(ctx context.Context, after time.Time, maxPages, perPage int) ([]Activity, error) {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if maxPages <= 0 {
		maxPages = 8
	}

	var collected []Activity
	for page := 1; page <= maxPages; page++ {
		batch, err := c.ListActivities(ctx, after, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		collected = append(collected, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return collected, nil
}

// GetActivity retrieves a single detailed activity by ID.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/activities/%d", activityID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activity Activity
	if err := json.NewDecoder(resp.Body).Decode(&activity); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &activity, nil
}

// UpdateDescription partially updates an activity, replacing its description.
func (c *Client) UpdateDescription(ctx context.Context, activityID int64, description string) (*Activity, error) {
	body := map[string]string{"description": description}
	resp, err := c.doRequest(ctx, "PUT", fmt.Sprintf("/activities/%d", activityID), nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var updated Activity
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &updated, nil
}

// CreateActivity creates a manual activity. Strava's create endpoint takes
// form-encoded fields rather than JSON.
func (c *Client) CreateActivity(ctx context.Context, a *Activity) (*Activity, error) {
	data := url.Values{}
	data.Set("name", a.Name)
	data.Set("type", a.Type)
	data.Set("start_date_local", a.StartDate.Format(time.RFC3339))
	data.Set("elapsed_time", strconv.Itoa(a.ElapsedTime))
	if a.Description != "" {
		data.Set("description", a.Description)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/activities", bytes.NewBufferString(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if err := httputil.ErrorFromResponse(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created Activity
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &created, nil
}
