package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

func TestParseEffort(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Effort
		wantErr error
	}{
		{name: "low", raw: "low", want: models.EffortLow},
		{name: "medium with whitespace", raw: "  medium ", want: models.EffortMedium},
		{name: "uppercase high", raw: "HIGH", want: models.EffortHigh},
		{name: "unknown value", raw: "extreme", wantErr: models.ErrInvalidEffort},
		{name: "empty", raw: "", wantErr: models.ErrInvalidEffort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effort, err := models.ParseEffort(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, effort)
			}
		})
	}
}

func TestEffort_Policy(t *testing.T) {
	tests := []struct {
		effort      models.Effort
		wantQueries int
		wantLoops   int
	}{
		{models.EffortLow, 1, 1},
		{models.EffortMedium, 3, 3},
		{models.EffortHigh, 5, 10},
	}

	for _, tt := range tests {
		t.Run(string(tt.effort), func(t *testing.T) {
			policy := tt.effort.Policy()
			assert.Equal(t, tt.wantQueries, policy.InitialQueries)
			assert.Equal(t, tt.wantLoops, policy.MaxLoops)
		})
	}
}

func TestStage_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from models.Stage
		to   models.Stage
		want bool
	}{
		{name: "init to planning", from: models.StageInit, to: models.StagePlanning, want: true},
		{name: "planning to researching", from: models.StagePlanning, to: models.StageResearching, want: true},
		{name: "researching to reflecting", from: models.StageResearching, to: models.StageReflecting, want: true},
		{name: "researching straight to finalizing", from: models.StageResearching, to: models.StageFinalizing, want: true},
		{name: "reflecting back to researching", from: models.StageReflecting, to: models.StageResearching, want: true},
		{name: "finalizing to done", from: models.StageFinalizing, to: models.StageDone, want: true},
		{name: "cancel from any running stage", from: models.StageReflecting, to: models.StageCancelled, want: true},
		{name: "fail from any running stage", from: models.StagePlanning, to: models.StageFailed, want: true},
		{name: "skip planning", from: models.StageInit, to: models.StageResearching, want: false},
		{name: "done is terminal", from: models.StageDone, to: models.StagePlanning, want: false},
		{name: "cancelled is terminal", from: models.StageCancelled, to: models.StageFailed, want: false},
		{name: "failed is terminal", from: models.StageFailed, to: models.StageCancelled, want: false},
		{name: "no backward jump to init", from: models.StageResearching, to: models.StageInit, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSession_Transition_RejectsIllegalMove(t *testing.T) {
	session := models.NewSession("s1", "what is raft consensus", models.EffortLow)

	require.NoError(t, session.Transition(models.StagePlanning))
	err := session.Transition(models.StageDone)
	assert.Error(t, err)
	assert.Equal(t, models.StagePlanning, session.Stage)
}

func TestSession_Transition_TerminalIsFinal(t *testing.T) {
	session := models.NewSession("s1", "question", models.EffortLow)

	require.NoError(t, session.Transition(models.StageCancelled))
	assert.True(t, session.Stage.Terminal())
	assert.Error(t, session.Transition(models.StagePlanning))
	assert.Error(t, session.Transition(models.StageFailed))
}

func TestSession_AddSource_LabelsAreStable(t *testing.T) {
	session := models.NewSession("s1", "question", models.EffortMedium)

	first, fresh := session.AddSource(models.SearchResult{URL: "https://a.example", Title: "A"})
	require.True(t, fresh)
	assert.Equal(t, "S1", first.Label)

	second, fresh := session.AddSource(models.SearchResult{URL: "https://b.example", Title: "B"})
	require.True(t, fresh)
	assert.Equal(t, "S2", second.Label)

	// Same URL sighted again, even with different metadata, keeps its label.
	dup, fresh := session.AddSource(models.SearchResult{URL: "https://a.example", Title: "A updated"})
	assert.False(t, fresh)
	assert.Equal(t, "S1", dup.Label)
	assert.Equal(t, "A", dup.Title)
	assert.Len(t, session.Sources, 2)

	label, ok := session.LabelFor("https://b.example")
	require.True(t, ok)
	assert.Equal(t, "S2", label)
}

func TestSession_RemainingLoops(t *testing.T) {
	session := models.NewSession("s1", "question", models.EffortMedium)
	assert.Equal(t, 3, session.RemainingLoops())

	session.LoopCount = 2
	assert.Equal(t, 1, session.RemainingLoops())

	session.LoopCount = 5
	assert.Equal(t, 0, session.RemainingLoops())
}

func TestSession_Snapshot_IsIndependent(t *testing.T) {
	session := models.NewSession("s1", "question", models.EffortLow)
	session.AddQueries(0, []string{"q1"})
	session.AddSource(models.SearchResult{URL: "https://a.example"})

	snap := session.Snapshot()
	session.AddQueries(1, []string{"q2"})
	session.AddSource(models.SearchResult{URL: "https://b.example"})

	assert.Len(t, snap.Queries, 1)
	assert.Len(t, snap.Sources, 1)
	assert.Len(t, session.Queries, 2)
	assert.Len(t, session.Sources, 2)
}
