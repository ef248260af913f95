package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshogin/deepresearch/internal/application/services"
	"github.com/mshogin/deepresearch/internal/domain/models"
	domainservices "github.com/mshogin/deepresearch/internal/domain/services"
	"github.com/mshogin/deepresearch/internal/infrastructure/keypool"
	"github.com/mshogin/deepresearch/internal/infrastructure/providers"
	"github.com/mshogin/deepresearch/internal/infrastructure/search"
)

func newController(t *testing.T, gen domainservices.GenerativeProvider, sea domainservices.SearchProvider, keys ...string) *services.WorkflowController {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"key-alpha-000001", "key-beta-0000002", "key-gamma-000003"}
	}
	pool, err := keypool.New(keys)
	require.NoError(t, err)
	invoker := services.NewModelInvoker(pool, gen, sea, 5*time.Second, 5*time.Second)
	return services.NewWorkflowController(
		services.NewQueryPlanner(invoker),
		services.NewResearchDispatcher(invoker),
		services.NewReflectionEvaluator(invoker),
		services.NewAnswerFinalizer(invoker),
	)
}

// collectEvents drains the stream until the controller closes it.
func collectEvents(t *testing.T, events <-chan *services.StageEvent) []*services.StageEvent {
	t.Helper()
	var out []*services.StageEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatal("timed out waiting for the event stream to close")
		}
	}
}

func stagesOf(events []*services.StageEvent) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Type+":"+string(event.Stage))
	}
	return out
}

func TestWorkflowController_Submit_RejectsBadInput(t *testing.T) {
	controller := newController(t, providers.NewMockGenerativeProvider(), search.NewMockSearchClient())

	_, _, err := controller.Submit(context.Background(), "  ", "low")
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)

	_, _, err = controller.Submit(context.Background(), "question", "extreme")
	assert.ErrorIs(t, err, models.ErrInvalidEffort)
}

func TestWorkflowController_HappyPathLowEffort(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse(`["raft consensus"]`).
		WithResponse(`{"sufficient": true, "knowledge_gap": "", "follow_up_queries": []}`).
		WithResponse("Raft elects a leader [S1].")
	sea := search.NewMockSearchClient().
		WithResults("raft consensus", models.SearchResult{URL: "https://a.example", Title: "A"})
	controller := newController(t, gen, sea)

	id, events, err := controller.Submit(context.Background(), "how does raft work", "low")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	assert.Equal(t, []string{
		"session:",
		"stage:planning",
		"stage:researching",
		"stage:reflecting",
		"stage:finalizing",
		"stage:done",
		"done:done",
	}, stagesOf(collected))

	session, err := controller.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, session.Stage)
	assert.Equal(t, "Raft elects a leader [S1].", session.Answer)
	require.Len(t, session.Sources, 1)
	assert.Equal(t, "S1", session.Sources[0].Label)
	assert.Equal(t, 0, session.LoopCount)
}

func TestWorkflowController_FirstRoundTotalFailureFailsSession(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse(`["only query"]`)
	sea := search.NewMockSearchClient().
		WithError("only query", models.NewFatalError("search", errors.New("400 bad request")))
	controller := newController(t, gen, sea)

	id, events, err := controller.Submit(context.Background(), "question", "low")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	assert.Equal(t, []string{
		"session:",
		"stage:planning",
		"error:failed",
		"done:failed",
	}, stagesOf(collected))

	session, err := controller.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, session.Stage)
	assert.NotEmpty(t, session.FailureCause)
	assert.Empty(t, session.Answer)
}

func TestWorkflowController_LaterRoundTotalFailureProceedsOnPriorEvidence(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse(`["q1"]`).
		WithResponse(`{"sufficient": false, "knowledge_gap": "needs depth", "follow_up_queries": ["f1"]}`).
		WithResponse("Answer from round one evidence [S1].")
	sea := search.NewMockSearchClient().
		WithResults("q1", models.SearchResult{URL: "https://a.example", Title: "A"}).
		WithError("f1", models.NewFatalError("search", errors.New("boom")))
	controller := newController(t, gen, sea)

	id, events, err := controller.Submit(context.Background(), "question", "low")
	require.NoError(t, err)
	collectEvents(t, events)

	session, err := controller.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, session.Stage)
	assert.Equal(t, "Answer from round one evidence [S1].", session.Answer)
	assert.Equal(t, 1, session.LoopCount)
}

func TestWorkflowController_LoopBudgetForcesFinalization(t *testing.T) {
	// Low effort allows exactly one follow-up round; the reflector must not
	// be consulted once the budget is spent.
	gen := providers.NewMockGenerativeProvider().
		WithResponse(`["q1"]`).
		WithResponse(`{"sufficient": false, "knowledge_gap": "gap", "follow_up_queries": ["f1", "f2"]}`).
		WithResponse("Final answer [S1].")
	sea := search.NewMockSearchClient().
		WithResults("q1", models.SearchResult{URL: "https://a.example", Title: "A"}).
		WithResults("f1", models.SearchResult{URL: "https://b.example", Title: "B"})
	controller := newController(t, gen, sea)

	id, events, err := controller.Submit(context.Background(), "question", "low")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	// Follow-ups were truncated to the one remaining loop.
	researchRounds := 0
	for _, event := range collected {
		if event.Type == "stage" && event.Stage == models.StageResearching {
			researchRounds++
		}
	}
	assert.Equal(t, 2, researchRounds)
	assert.Equal(t, 3, gen.Calls())

	session, err := controller.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, session.Stage)
	assert.Equal(t, 1, session.LoopCount)
	assert.Len(t, session.Sources, 2)
}

// blockingSearch parks every call until its context is cancelled, signalling
// on started once a call is in flight.
type blockingSearch struct {
	started chan struct{}
}

func (b *blockingSearch) Name() string { return "blocking" }

func (b *blockingSearch) Search(ctx context.Context, query, apiKey string) ([]models.SearchResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWorkflowController_CancelMidResearch(t *testing.T) {
	gen := providers.NewMockGenerativeProvider().
		WithResponse(`["q1"]`)
	sea := &blockingSearch{started: make(chan struct{}, 1)}
	controller := newController(t, gen, sea)

	id, events, err := controller.Submit(context.Background(), "question", "low")
	require.NoError(t, err)

	select {
	case <-sea.started:
	case <-time.After(5 * time.Second):
		t.Fatal("search call never started")
	}
	require.NoError(t, controller.Cancel(id))
	// Cancellation is idempotent.
	require.NoError(t, controller.Cancel(id))

	collected := collectEvents(t, events)
	last := collected[len(collected)-1]
	assert.Equal(t, "done", last.Type)
	assert.Equal(t, models.StageCancelled, last.Stage)

	session, err := controller.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, session.Stage)
}

func TestWorkflowController_EvictsOldestTerminalSessions(t *testing.T) {
	// Retention keeps the most recent 128 terminal sessions; one more than
	// that must evict the oldest while keeping the rest queryable.
	gen := providers.NewMockGenerativeProvider() // unscripted: every session fails fast in planning
	controller := newController(t, gen, search.NewMockSearchClient())

	ids := make([]string, 0, 129)
	for i := 0; i < 129; i++ {
		id, events, err := controller.Submit(context.Background(), "question", "low")
		require.NoError(t, err)
		collectEvents(t, events)
		ids = append(ids, id)
	}

	_, err := controller.Get(ids[0])
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	second, err := controller.Get(ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, second.Stage)

	last, err := controller.Get(ids[len(ids)-1])
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, last.Stage)
}

func TestWorkflowController_CancelUnknownSession(t *testing.T) {
	controller := newController(t, providers.NewMockGenerativeProvider(), search.NewMockSearchClient())

	assert.ErrorIs(t, controller.Cancel("no-such-id"), models.ErrSessionNotFound)
	_, err := controller.Get("no-such-id")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
