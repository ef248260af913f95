package services

import (
	"context"
	"fmt"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// QueryPlanner turns a user question and effort level into the initial
// batch of distinct search queries. The effort table is a fixed policy
// (models.EffortPolicy); a short reply from the model is padded by
// deterministic reformulation of the question rather than failing the
// session.
type QueryPlanner struct {
	invoker *ModelInvoker
}

// NewQueryPlanner creates a new query planner.
func NewQueryPlanner(invoker *ModelInvoker) *QueryPlanner {
	return &QueryPlanner{invoker: invoker}
}

// reformulationAngles pads a short query list. Fixed order keeps padding
// reproducible for the same question.
var reformulationAngles = []string{
	"overview",
	"key facts",
	"recent developments",
	"limitations and criticism",
	"notable examples",
}

// Plan generates the initial queries and returns them with the loop budget
// for the effort level.
func (p *QueryPlanner) Plan(ctx context.Context, question string, effort models.Effort) ([]string, int, error) {
	policy := effort.Policy()
	prompt := buildPlannerPrompt(question, policy.InitialQueries)

	raw, err := p.invoker.Generate(ctx, prompt)
	if err != nil {
		return nil, 0, err
	}

	queries, parseErr := parseStringList(raw)
	if parseErr != nil {
		// One local repair attempt; the credential is not at fault.
		raw, err = p.invoker.Generate(ctx, repairPrompt(prompt, raw))
		if err != nil {
			return nil, 0, err
		}
		queries, parseErr = parseStringList(raw)
		if parseErr != nil {
			return nil, 0, &models.ValidationError{Component: "query planner", Detail: parseErr.Error()}
		}
	}

	queries = normalizeQueries(queries, policy.InitialQueries)
	queries = padQueries(queries, question, policy.InitialQueries)
	return queries, policy.MaxLoops, nil
}

// padQueries tops the list up to want entries with deterministic
// reformulations of the original question.
func padQueries(queries []string, question string, want int) []string {
	present := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		present[q] = struct{}{}
	}
	for i := 0; len(queries) < want; i++ {
		var candidate string
		if i < len(reformulationAngles) {
			candidate = fmt.Sprintf("%s %s", question, reformulationAngles[i])
		} else {
			candidate = fmt.Sprintf("%s (%d)", question, i+1)
		}
		if _, dup := present[candidate]; dup {
			continue
		}
		present[candidate] = struct{}{}
		queries = append(queries, candidate)
	}
	return queries
}
