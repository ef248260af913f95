package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

// Prompt construction and output parsing shared by the planner, reflector
// and finalizer. Every prompt demands strict JSON so the components can
// post-validate the model's shape; a malformed reply gets exactly one
// repair re-prompt before becoming a ValidationError.

func buildPlannerPrompt(question string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d distinct web search queries that together cover the question below.\n", count)
	b.WriteString("Respond with a JSON array of strings and nothing else.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

func buildReflectionPrompt(question string, queries []models.Query, sources []models.Source, maxFollowUps int) string {
	var b strings.Builder
	b.WriteString("You are judging whether the evidence gathered so far answers the question.\n")
	b.WriteString("Respond with JSON only, shaped as:\n")
	b.WriteString(`{"sufficient": bool, "knowledge_gap": string, "follow_up_queries": [string]}`)
	fmt.Fprintf(&b, "\nPropose at most %d follow-up queries, and none if the evidence is sufficient.\n", maxFollowUps)
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	b.WriteString("\nQueries already issued:\n")
	for _, q := range queries {
		fmt.Fprintf(&b, "- %s\n", q.Text)
	}
	b.WriteString("\nGathered sources:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "[%s] %s — %s\n", src.Label, src.Title, src.Snippet)
	}
	return b.String()
}

func buildFinalizerPrompt(question string, sources []models.Source) string {
	var b strings.Builder
	b.WriteString("Write a final answer to the question using only the sources below.\n")
	b.WriteString("Cite sources inline with their bracketed labels, e.g. [S1]. ")
	b.WriteString("Do not cite labels that are not listed.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", question)
	for _, src := range sources {
		fmt.Fprintf(&b, "[%s] %s (%s)\n%s\n\n", src.Label, src.Title, src.URL, src.Snippet)
	}
	return b.String()
}

// repairPrompt asks the model to re-emit its previous reply as valid JSON.
func repairPrompt(original, malformed string) string {
	var b strings.Builder
	b.WriteString("Your previous reply was not valid JSON of the requested shape.\n")
	b.WriteString("Previous reply:\n")
	b.WriteString(malformed)
	b.WriteString("\n\nAnswer the original request again, emitting only valid JSON.\n\n")
	b.WriteString(original)
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence, which models
// add despite instructions to emit bare JSON.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// parseStringList accepts either a bare JSON array of strings or an object
// wrapping one under "queries".
func parseStringList(raw string) ([]string, error) {
	cleaned := stripCodeFence(raw)

	var list []string
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.Queries != nil {
		return wrapped.Queries, nil
	}
	return nil, fmt.Errorf("expected a JSON array of strings, got: %.120s", cleaned)
}

// normalizeQueries trims, drops blanks, and deduplicates while preserving
// order, capping the list at limit.
func normalizeQueries(queries []string, limit int) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
