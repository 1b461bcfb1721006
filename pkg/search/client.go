// Package search queries the knowledge base index configured for a line.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config selects the index and semantic configuration for one query.
type Config struct {
	Index                 string
	SemanticConfiguration string
}

// Searcher returns the best matching content for the caller's query, or ""
// when nothing relevant was found.
type Searcher interface {
	Search(ctx context.Context, query string, cfg Config) (string, error)
}

// Disabled stands in when no search backend is configured; every query
// behaves as a miss.
type Disabled struct{}

func (Disabled) Search(ctx context.Context, query string, cfg Config) (string, error) {
	return "", nil
}

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchPayload struct {
	Search                string `json:"search"`
	QueryType             string `json:"queryType"`
	SemanticConfiguration string `json:"semanticConfiguration"`
	Top                   int    `json:"top"`
}

type searchResult struct {
	Value []struct {
		Content string `json:"content"`
	} `json:"value"`
}

func (c *Client) Search(ctx context.Context, query string, cfg Config) (string, error) {
	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=2023-11-01", c.endpoint, cfg.Index)

	payload := searchPayload{
		Search:                query,
		QueryType:             "semantic",
		SemanticConfiguration: cfg.SemanticConfiguration,
		Top:                   3,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API error: %s (status %d)", string(body), resp.StatusCode)
	}

	var result searchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse search response: %w", err)
	}

	parts := make([]string, 0, len(result.Value))
	for _, doc := range result.Value {
		if doc.Content != "" {
			parts = append(parts, doc.Content)
		}
	}
	return strings.Join(parts, "\n"), nil
}
