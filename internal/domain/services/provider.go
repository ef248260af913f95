package services

import (
	"context"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// GenerativeProvider is the opaque "generate(prompt) -> text" capability of
// the language model backend. The interface is defined in the domain layer
// and implemented in the infrastructure layer (Dependency Inversion).
//
// Implementations classify their failures with the ProviderError kinds in
// domain/models so the model invoker can decide whether to fail over to a
// different credential.
type GenerativeProvider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// Generate sends the prompt under the given API key and returns the
	// model's text. The context carries the per-attempt timeout.
	Generate(ctx context.Context, prompt, apiKey string) (string, error)
}

// SearchProvider performs one web search under a rotating API key and
// returns candidate sources. Implementations classify failures the same way
// GenerativeProvider does.
type SearchProvider interface {
	// Name returns the search backend identifier (e.g. "brave").
	Name() string

	// Search runs a free-text query and returns candidate results in the
	// backend's ranking order. The context carries the per-attempt timeout.
	Search(ctx context.Context, query, apiKey string) ([]models.SearchResult, error)
}
