// Package jobsearch proxies job queries to the JSearch API on RapidAPI.
//
// The response body passes through verbatim: the frontend consumes JSearch's
// own schema, so re-modelling it here would only add drift.
package jobsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notemind/internal/core"
	"notemind/internal/httpclient"
)

const backendName = "jsearch"

// Client calls the JSearch API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	host       string
}

// New creates a JSearch client. An empty apiKey yields a disabled client;
// Enabled lets the surface answer 503 without issuing a doomed call.
func New(apiKey, baseURL string) *Client {
	u, err := url.Parse(baseURL)
	host := ""
	if err == nil {
		host = u.Host
	}
	return &Client{
		httpClient: httpclient.New(30 * time.Second),
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		host:       host,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Search runs one job query and returns the provider's JSON body unchanged.
// page defaults to 1.
func (c *Client) Search(ctx context.Context, query string, page int) (json.RawMessage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.NewInvalidInputError("query is required")
	}
	if page < 1 {
		page = 1
	}

	endpoint := fmt.Sprintf("%s/search?query=%s&page=%d&num_pages=1",
		c.baseURL, url.QueryEscape(query), page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, core.NewTransientError(backendName, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.Classify(backendName, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError(backendName, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ClassifyStatus(backendName, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
