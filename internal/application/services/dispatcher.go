package services

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// ResearchDispatcher fans out one search task per query concurrently and
// merges the results. A task's failure never aborts its siblings; it simply
// yields an empty outcome for that query. Only a round in which every task
// failed is reported as an error, so the controller can distinguish "no new
// information" from total fetch failure.
type ResearchDispatcher struct {
	invoker *ModelInvoker
}

// NewResearchDispatcher creates a new dispatcher.
func NewResearchDispatcher(invoker *ModelInvoker) *ResearchDispatcher {
	return &ResearchDispatcher{invoker: invoker}
}

// QueryOutcome is the captured result of one search task.
type QueryOutcome struct {
	Query   models.Query          `json:"query"`
	Results []models.SearchResult `json:"results,omitempty"`
	Err     error                 `json:"-"`

	// completionSeq orders outcomes by task completion for the merge.
	completionSeq int64
}

// Research runs one dispatch round. The merged results are ordered by task
// completion with the original query index as tie-break, which makes label
// assignment reproducible whenever task completion order is controlled.
func (d *ResearchDispatcher) Research(ctx context.Context, queries []models.Query) ([]models.SearchResult, []QueryOutcome, error) {
	if len(queries) == 0 {
		return nil, nil, nil
	}

	outcomes := make([]QueryOutcome, len(queries))
	var seq atomic.Int64

	// Plain group, not WithContext: one task's failure must not cancel the
	// siblings. Tasks record their outcome and always return nil.
	g := new(errgroup.Group)
	g.SetLimit(len(queries))
	for i := range queries {
		i := i
		g.Go(func() error {
			results, err := d.invoker.Search(ctx, queries[i].Text)
			outcomes[i] = QueryOutcome{
				Query:         queries[i],
				Results:       results,
				Err:           err,
				completionSeq: seq.Add(1),
			}
			return nil
		})
	}
	g.Wait()

	failed := 0
	var exhaustion error
	for i := range outcomes {
		if outcomes[i].Err == nil {
			continue
		}
		failed++
		if models.IsExhaustion(outcomes[i].Err) {
			exhaustion = outcomes[i].Err
		}
	}
	if failed == len(outcomes) {
		// Pool exhaustion outranks ResearchExhausted: it is fatal for the
		// session in any round, not just the first.
		if exhaustion != nil {
			return nil, outcomes, exhaustion
		}
		if err := ctx.Err(); err != nil {
			return nil, outcomes, err
		}
		return nil, outcomes, models.ErrResearchExhausted
	}

	order := make([]int, len(outcomes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		oa, ob := outcomes[order[a]], outcomes[order[b]]
		if oa.completionSeq != ob.completionSeq {
			return oa.completionSeq < ob.completionSeq
		}
		return order[a] < order[b]
	})

	var merged []models.SearchResult
	for _, idx := range order {
		merged = append(merged, outcomes[idx].Results...)
	}
	return merged, outcomes, nil
}
