// Package worlds is the HTTP client for the hosted knowledge-store API.
// A "world" is one user-owned RDF dataset; the store exposes SPARQL
// query/update and a plain-text fact search over it.
package worlds

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

	"worldsd/config"
)

// Store is the surface the tool layer depends on. The concrete Client talks
// to the hosted API; tests substitute their own implementation.
type Store interface {
	// Sparql executes a SPARQL statement (query or update) against a world
	// and returns the decoded JSON result. Updates return an empty result.
	Sparql(ctx context.Context, worldID, statement string) (any, error)

	// SearchFacts runs a plain-text search over a world's triples.
	SearchFacts(ctx context.Context, worldID, query string, limit int) ([]Fact, error)
}

// Fact is one triple returned by fact search, with the store's display
// labels when it has them.
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Label     string `json:"label,omitempty"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("worlds base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid worlds URL: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) Sparql(ctx context.Context, worldID, statement string) (any, error) {
	if worldID == "" {
		return nil, fmt.Errorf("world ID is required")
	}

	body, err := json.Marshal(map[string]string{"sparql": statement})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sparql request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/worlds/%s/sparql", c.baseURL, url.PathEscape(worldID))
	respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		// Updates come back with no body.
		return map[string]any{"ok": true}, nil
	}

	var result any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sparql result: %w", err)
	}
	return result, nil
}

func (c *Client) SearchFacts(ctx context.Context, worldID, query string, limit int) ([]Fact, error) {
	if worldID == "" {
		return nil, fmt.Errorf("world ID is required")
	}
	if limit <= 0 {
		limit = 25
	}

	endpoint := fmt.Sprintf("%s/api/worlds/%s/facts?q=%s&limit=%s",
		c.baseURL, url.PathEscape(worldID), url.QueryEscape(query), strconv.Itoa(limit))
	respBody, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Facts []Fact `json:"facts"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode fact search result: %w", err)
	}
	return result.Facts, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("worlds: %s %s (%d bytes)", method, endpoint, len(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worlds request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worlds response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worlds API returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
