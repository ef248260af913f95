package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/domain/services"
	"github.com/mshogin/deepresearch/internal/infrastructure/config"
)

// BraveClient implements the SearchProvider interface against the Brave
// Search API. The subscription token is supplied per call by the model
// invoker so search traffic rotates through the same credential pool as
// generation traffic.
type BraveClient struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
}

// NewBraveClient creates a Brave search client.
func NewBraveClient(cfg config.SearchConfig) services.SearchProvider {
	return &BraveClient{
		endpoint:   cfg.Endpoint,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the search backend identifier.
func (c *BraveClient) Name() string {
	return "brave"
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one web search under the given subscription token. Failure
// classification mirrors the generate provider so the invoker applies one
// failover policy to both.
func (c *BraveClient) Search(ctx context.Context, query, apiKey string) ([]models.SearchResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s", c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.NewFatalError("search", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewTransientError("search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, classifySearchStatus(resp.StatusCode, payload)
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewFatalError("search", fmt.Errorf("failed to decode response: %w", err))
	}

	results := make([]models.SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, models.SearchResult{URL: r.URL, Title: r.Title, Snippet: r.Description})
		if len(results) >= c.maxResults {
			break
		}
	}
	return results, nil
}

func classifySearchStatus(status int, body []byte) error {
	err := fmt.Errorf("search API error (status %d): %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewAuthError("search", err)
	case status == http.StatusTooManyRequests || status >= 500:
		return models.NewTransientError("search", err)
	default:
		return models.NewFatalError("search", err)
	}
}
