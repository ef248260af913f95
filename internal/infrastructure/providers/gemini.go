package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/domain/services"
	"github.com/mshogin/deepresearch/internal/infrastructure/config"
)

// GeminiProvider implements the GenerativeProvider interface against the
// Gemini REST API. The API key is supplied per call by the model invoker,
// not held by the provider, so one provider instance serves the whole
// rotating pool.
type GeminiProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiProvider creates a new Gemini provider instance.
func NewGeminiProvider(cfg config.ProviderConfig) services.GenerativeProvider {
	return &GeminiProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends a single-turn generateContent request under the given key.
// Failures are classified for the invoker: 401/403 disable the credential,
// rate limits and server errors are retried on a fresh one, anything else
// propagates without failover.
func (p *GeminiProvider) Generate(ctx context.Context, prompt, apiKey string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", models.NewFatalError("generate", fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", models.NewFatalError("generate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", models.NewTransientError("generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", classifyStatus("generate", resp.StatusCode, payload)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", models.NewFatalError("generate", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(parsed.Candidates) == 0 {
		return "", models.NewFatalError("generate", fmt.Errorf("response contained no candidates"))
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

// classifyStatus maps an HTTP status to the retry taxonomy shared by every
// provider in this package.
func classifyStatus(op string, status int, body []byte) error {
	err := fmt.Errorf("API error (status %d): %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewAuthError(op, err)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return models.NewTransientError(op, err)
	default:
		return models.NewFatalError(op, err)
	}
}
