package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshogin/deepresearch/internal/application/services"
	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/providers"
	"github.com/mshogin/deepresearch/internal/infrastructure/search"
)

func newDispatcher(t *testing.T, sea *search.MockSearchClient, keys ...string) *services.ResearchDispatcher {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"key-alpha-000001"}
	}
	pool := newTestPool(t, keys...)
	return services.NewResearchDispatcher(newTestInvoker(pool, providers.NewMockGenerativeProvider(), sea))
}

func queriesFor(texts ...string) []models.Query {
	out := make([]models.Query, len(texts))
	for i, text := range texts {
		out[i] = models.Query{Text: text, Round: 0}
	}
	return out
}

func TestResearchDispatcher_Research_MergesAllResults(t *testing.T) {
	sea := search.NewMockSearchClient().
		WithResults("q1", models.SearchResult{URL: "https://a.example", Title: "A"}).
		WithResults("q2", models.SearchResult{URL: "https://b.example", Title: "B"},
			models.SearchResult{URL: "https://c.example", Title: "C"})
	dispatcher := newDispatcher(t, sea)

	merged, outcomes, err := dispatcher.Research(context.Background(), queriesFor("q1", "q2"))
	require.NoError(t, err)
	assert.Len(t, merged, 3)
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
}

func TestResearchDispatcher_Research_PartialFailureIsNotAnError(t *testing.T) {
	// 3-key pool so one query's transient failure burns retry budget without
	// exhausting the pool for the sibling.
	sea := search.NewMockSearchClient().
		WithResults("good", models.SearchResult{URL: "https://a.example", Title: "A"}).
		WithError("bad", models.NewFatalError("search", errors.New("400 bad request")))
	dispatcher := newDispatcher(t, sea, "key-alpha-000001", "key-beta-0000002", "key-gamma-000003")

	merged, outcomes, err := dispatcher.Research(context.Background(), queriesFor("good", "bad"))
	require.NoError(t, err)
	assert.Len(t, merged, 1)
	assert.Equal(t, "https://a.example", merged[0].URL)

	var failed int
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			assert.Equal(t, "bad", outcome.Query.Text)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestResearchDispatcher_Research_AllFailedIsResearchExhausted(t *testing.T) {
	sea := search.NewMockSearchClient().
		WithError("q1", models.NewFatalError("search", errors.New("boom"))).
		WithError("q2", models.NewFatalError("search", errors.New("boom")))
	dispatcher := newDispatcher(t, sea, "key-alpha-000001", "key-beta-0000002")

	merged, outcomes, err := dispatcher.Research(context.Background(), queriesFor("q1", "q2"))
	assert.ErrorIs(t, err, models.ErrResearchExhausted)
	assert.Nil(t, merged)
	assert.Len(t, outcomes, 2)
}

func TestResearchDispatcher_Research_PoolExhaustionOutranksResearchExhausted(t *testing.T) {
	// A single key disabled by the first query's failure leaves the second
	// query with an empty pool, so the round reports exhaustion.
	sea := search.NewMockSearchClient().
		WithFailure(models.NewTransientError("search", errors.New("503")))
	dispatcher := newDispatcher(t, sea)

	_, _, err := dispatcher.Research(context.Background(), queriesFor("q1", "q2"))
	require.Error(t, err)
	assert.True(t, models.IsExhaustion(err))
}

func TestResearchDispatcher_Research_EmptyRoundIsNoOp(t *testing.T) {
	dispatcher := newDispatcher(t, search.NewMockSearchClient())

	merged, outcomes, err := dispatcher.Research(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, merged)
	assert.Nil(t, outcomes)
}
