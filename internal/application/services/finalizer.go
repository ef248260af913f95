package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
)

// AnswerFinalizer synthesizes the final cited answer from the accumulated
// evidence. Every citation marker the model emits must resolve to a label
// in the session's source list; unresolved markers are stripped rather than
// let dangling references through.
type AnswerFinalizer struct {
	invoker *ModelInvoker
}

// NewAnswerFinalizer creates a new answer finalizer.
func NewAnswerFinalizer(invoker *ModelInvoker) *AnswerFinalizer {
	return &AnswerFinalizer{invoker: invoker}
}

var citationMarker = regexp.MustCompile(`\[(S\d+)\]`)

// Finalize produces the cited answer text.
func (f *AnswerFinalizer) Finalize(ctx context.Context, question string, sources []models.Source) (string, error) {
	prompt := buildFinalizerPrompt(question, sources)

	raw, err := f.invoker.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		raw, err = f.invoker.Generate(ctx, repairPrompt(prompt, raw))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(raw) == "" {
			return "", &models.ValidationError{Component: "answer finalizer", Detail: "empty answer"}
		}
	}

	answer, stripped := resolveCitations(raw, sources)
	if stripped > 0 {
		logging.Warn("stripped unresolved citation markers from answer", map[string]interface{}{
			"stripped": stripped,
		})
	}
	return answer, nil
}

// resolveCitations removes citation markers that do not match any known
// label, returning the cleaned answer and how many were stripped.
func resolveCitations(answer string, sources []models.Source) (string, int) {
	known := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		known[src.Label] = struct{}{}
	}

	stripped := 0
	cleaned := citationMarker.ReplaceAllStringFunc(answer, func(marker string) string {
		label := marker[1 : len(marker)-1]
		if _, ok := known[label]; ok {
			return marker
		}
		stripped++
		return ""
	})
	return strings.TrimSpace(cleaned), stripped
}
