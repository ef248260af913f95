package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
)

// ReflectionEvaluator inspects the accumulated evidence and decides whether
// it is sufficient to answer the question, or emits bounded follow-up
// queries. It is never invoked once the loop budget is spent; the
// controller forces sufficiency instead.
type ReflectionEvaluator struct {
	invoker *ModelInvoker
}

// NewReflectionEvaluator creates a new reflection evaluator.
func NewReflectionEvaluator(invoker *ModelInvoker) *ReflectionEvaluator {
	return &ReflectionEvaluator{invoker: invoker}
}

// Reflect runs one reflection pass. Follow-up queries are truncated to
// remainingLoops; the budget is never expanded. A verdict that is
// insufficient yet proposes no usable follow-up is coerced to sufficient,
// because the loop cannot make progress without new queries.
func (r *ReflectionEvaluator) Reflect(
	ctx context.Context,
	question string,
	queries []models.Query,
	sources []models.Source,
	remainingLoops int,
) (models.ReflectionResult, error) {
	prompt := buildReflectionPrompt(question, queries, sources, remainingLoops)

	raw, err := r.invoker.Generate(ctx, prompt)
	if err != nil {
		return models.ReflectionResult{}, err
	}

	verdict, parseErr := parseReflection(raw)
	if parseErr != nil {
		raw, err = r.invoker.Generate(ctx, repairPrompt(prompt, raw))
		if err != nil {
			return models.ReflectionResult{}, err
		}
		verdict, parseErr = parseReflection(raw)
		if parseErr != nil {
			return models.ReflectionResult{}, &models.ValidationError{Component: "reflection evaluator", Detail: parseErr.Error()}
		}
	}

	verdict.FollowUpQueries = normalizeQueries(verdict.FollowUpQueries, remainingLoops)
	if !verdict.Sufficient && len(verdict.FollowUpQueries) == 0 {
		logging.Debug("reflection proposed no usable follow-ups, forcing sufficiency")
		verdict.Sufficient = true
	}
	return verdict, nil
}

// parseReflection decodes the JSON verdict and rejects shapes that carry no
// signal at all.
func parseReflection(raw string) (models.ReflectionResult, error) {
	cleaned := stripCodeFence(raw)

	var verdict models.ReflectionResult
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return models.ReflectionResult{}, fmt.Errorf("expected a JSON reflection verdict, got: %.120s", cleaned)
	}
	if !verdict.Sufficient && verdict.KnowledgeGap == "" && len(verdict.FollowUpQueries) == 0 {
		return models.ReflectionResult{}, fmt.Errorf("verdict carries neither sufficiency nor follow-ups: %.120s", cleaned)
	}
	return verdict, nil
}
