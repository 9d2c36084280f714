// Package memoryprovider is an HTTP client for the external long-term
// memory provider. The provider is an explicit out-of-scope collaborator
// (named-interface only); this client is deliberately thin and lets
// internal/memoryservice own all fallback/degrade behavior.
package memoryprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
)

// Client writes and searches namespaced memories on the external provider.
type Client interface {
	Write(ctx context.Context, namespace string, text string, metadata model.JSONMap) (string, error)
	Search(ctx context.Context, namespace string, query string, k int) ([]model.MemoryItem, error)
}

type httpClient struct {
	cfg    config.MemoryConfig
	client *http.Client
}

// NewClient builds an HTTP-backed Client. Returns nil if BaseURL is not
// configured, signalling callers to skip the provider entirely rather
// than make doomed HTTP calls.
func NewClient(cfg config.MemoryConfig) Client {
	if cfg.BaseURL == "" {
		return nil
	}
	return &httpClient{cfg: cfg, client: &http.Client{}}
}

type writeRequest struct {
	Namespace string         `json:"namespace"`
	Text      string         `json:"text"`
	Metadata  model.JSONMap  `json:"metadata,omitempty"`
}

type writeResponse struct {
	ID string `json:"id"`
}

type searchRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
	K         int    `json:"k"`
}

type searchResponse struct {
	Items []struct {
		ID       string        `json:"id"`
		Text     string        `json:"text"`
		Score    float64       `json:"score"`
		Metadata model.JSONMap `json:"metadata"`
	} `json:"items"`
}

func (c *httpClient) Write(ctx context.Context, namespace, text string, metadata model.JSONMap) (string, error) {
	body, err := json.Marshal(writeRequest{Namespace: namespace, Text: text, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("failed to marshal memory write request: %w", err)
	}
	resp, err := c.do(ctx, "/memories", body)
	if err != nil {
		return "", err
	}
	var parsed writeResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal memory write response: %w", err)
	}
	return parsed.ID, nil
}

func (c *httpClient) Search(ctx context.Context, namespace, query string, k int) ([]model.MemoryItem, error) {
	body, err := json.Marshal(searchRequest{Namespace: namespace, Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory search request: %w", err)
	}
	resp, err := c.do(ctx, "/memories/search", body)
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory search response: %w", err)
	}
	items := make([]model.MemoryItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		items = append(items, model.MemoryItem{ID: it.ID, Text: it.Text, Score: it.Score, Metadata: it.Metadata})
	}
	return items, nil
}

func (c *httpClient) do(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build memory provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call memory provider: %w", err)
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory provider returned non-200 status: %s, body: %s", resp.Status, string(respBytes))
	}
	return respBytes, nil
}
