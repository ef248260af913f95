package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshogin/deepresearch/internal/application/services"
	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/providers"
	"github.com/mshogin/deepresearch/internal/infrastructure/search"
)

func newPlanner(t *testing.T, gen *providers.MockGenerativeProvider) *services.QueryPlanner {
	t.Helper()
	pool := newTestPool(t, "key-alpha-000001")
	return services.NewQueryPlanner(newTestInvoker(pool, gen, search.NewMockSearchClient()))
}

func TestQueryPlanner_Plan_EffortControlsFanOut(t *testing.T) {
	tests := []struct {
		effort      models.Effort
		response    string
		wantQueries int
		wantLoops   int
	}{
		{models.EffortLow, `["raft consensus overview"]`, 1, 1},
		{models.EffortMedium, `["a", "b", "c"]`, 3, 3},
		{models.EffortHigh, `["a", "b", "c", "d", "e"]`, 5, 10},
	}

	for _, tt := range tests {
		t.Run(string(tt.effort), func(t *testing.T) {
			planner := newPlanner(t, providers.NewMockGenerativeProvider().WithResponse(tt.response))

			queries, maxLoops, err := planner.Plan(context.Background(), "how does raft work", tt.effort)
			require.NoError(t, err)
			assert.Len(t, queries, tt.wantQueries)
			assert.Equal(t, tt.wantLoops, maxLoops)
		})
	}
}

func TestQueryPlanner_Plan_TruncatesOverlongList(t *testing.T) {
	planner := newPlanner(t, providers.NewMockGenerativeProvider().
		WithResponse(`["a", "b", "c", "d", "e"]`))

	queries, _, err := planner.Plan(context.Background(), "question", models.EffortMedium)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, queries)
}

func TestQueryPlanner_Plan_PadsShortListDeterministically(t *testing.T) {
	planner := newPlanner(t, providers.NewMockGenerativeProvider().
		WithResponse(`["rust borrow checker"]`))

	queries, _, err := planner.Plan(context.Background(), "rust borrow checker", models.EffortMedium)
	require.NoError(t, err)
	require.Len(t, queries, 3)
	assert.Equal(t, "rust borrow checker", queries[0])
	assert.Equal(t, "rust borrow checker overview", queries[1])
	assert.Equal(t, "rust borrow checker key facts", queries[2])
}

func TestQueryPlanner_Plan_DropsDuplicateQueries(t *testing.T) {
	planner := newPlanner(t, providers.NewMockGenerativeProvider().
		WithResponse(`["go generics", "Go Generics", "go generics tutorial"]`))

	queries, _, err := planner.Plan(context.Background(), "go generics", models.EffortMedium)
	require.NoError(t, err)
	require.Len(t, queries, 3)
	assert.Equal(t, "go generics", queries[0])
	assert.Equal(t, "go generics tutorial", queries[1])
	// Third slot is padded, not the case-variant duplicate.
	assert.NotEqual(t, "Go Generics", queries[2])
}

func TestQueryPlanner_Plan_AcceptsWrappedObjectAndCodeFence(t *testing.T) {
	planner := newPlanner(t, providers.NewMockGenerativeProvider().
		WithResponse("```json\n{\"queries\": [\"a\"]}\n```"))

	queries, _, err := planner.Plan(context.Background(), "question", models.EffortLow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, queries)
}

func TestQueryPlanner_Plan_RepairsMalformedOutputOnce(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse("Sure! Here are some queries you could try.").
		WithResponse(`["repaired query"]`)
	planner := newPlanner(t, gen)

	queries, _, err := planner.Plan(context.Background(), "question", models.EffortLow)
	require.NoError(t, err)
	assert.Equal(t, []string{"repaired query"}, queries)
	assert.Equal(t, 2, gen.Calls())
}

func TestQueryPlanner_Plan_TwiceMalformedIsValidationError(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse("not json").
		WithResponse("still not json")
	planner := newPlanner(t, gen)

	_, _, err := planner.Plan(context.Background(), "question", models.EffortLow)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 2, gen.Calls())
}
