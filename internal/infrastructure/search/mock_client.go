package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// MockSearchClient is a configurable implementation of SearchProvider for
// testing.
//
// Design:
// - Returns predefined results keyed by query text
// - Per-query or blanket failures for partial-failure scenarios
// - Records call order for determinism assertions
type MockSearchClient struct {
	mu             sync.Mutex
	resultsByQuery map[string][]models.SearchResult
	errByQuery     map[string]error
	blanketErr     error
	queries        []string
}

// NewMockSearchClient creates a new mock search client.
func NewMockSearchClient() *MockSearchClient {
	return &MockSearchClient{
		resultsByQuery: make(map[string][]models.SearchResult),
		errByQuery:     make(map[string]error),
	}
}

// WithResults sets the results returned for a query.
func (m *MockSearchClient) WithResults(query string, results ...models.SearchResult) *MockSearchClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resultsByQuery[query] = results
	return m
}

// WithError makes a specific query fail.
func (m *MockSearchClient) WithError(query string, err error) *MockSearchClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errByQuery[query] = err
	return m
}

// WithFailure makes every query fail with err.
func (m *MockSearchClient) WithFailure(err error) *MockSearchClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blanketErr = err
	return m
}

// Name returns the search backend identifier.
func (m *MockSearchClient) Name() string {
	return "mock"
}

// Search returns the configured results for the query.
func (m *MockSearchClient) Search(ctx context.Context, query, apiKey string) ([]models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)

	if m.blanketErr != nil {
		return nil, m.blanketErr
	}
	if err, ok := m.errByQuery[query]; ok {
		return nil, err
	}
	if results, ok := m.resultsByQuery[query]; ok {
		return append([]models.SearchResult(nil), results...), nil
	}
	return nil, models.NewTransientError("search", fmt.Errorf("no results configured for query %q", query))
}

// Queries returns every query seen so far, in call order.
func (m *MockSearchClient) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
