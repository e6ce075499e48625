package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Enricher rewrites a baseline result into richer narrative text. Failures
// are expected and handled by the caller's fallback; implementations bound
// their own latency.
type Enricher interface {
	Enrich(ctx context.Context, d Deltas, topPages, topQueries []store.TopEntry, base Result) (Result, error)
}

// HTTPEnricher calls an OpenAI-compatible chat completions endpoint
type HTTPEnricher struct {
	httpClient *http.Client
	url        string
	model      string
	apiKey     string
}

// NewHTTPEnricher creates an enricher against url. timeout is a hard cap on
// the whole call; a slow model never delays report generation past it.
func NewHTTPEnricher(url, model, apiKey string, timeout time.Duration) *HTTPEnricher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPEnricher{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		model:      model,
		apiKey:     apiKey,
	}
}

const systemPrompt = `You are an SEO analyst. Rewrite the provided baseline insights into clear, specific narrative insights and recommendations for a site owner.
Ground every number you mention in the aggregates provided. Never invent metrics, dates, pages, or queries that are not in the input.
Respond with JSON only: {"insights": ["..."], "recommendations": ["..."]}`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *responseFmt  `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Enrich sends the aggregates and baseline to the model and parses its JSON
// reply. Any transport, status, or parse failure is returned to the caller.
func (e *HTTPEnricher) Enrich(ctx context.Context, d Deltas, topPages, topQueries []store.TopEntry, base Result) (Result, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"aggregates":  d,
		"top_pages":   topPages,
		"top_queries": topQueries,
		"baseline":    base,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode enrichment input: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFmt{Type: "json_object"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode enrichment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("enrichment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("enrichment endpoint returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode enrichment response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("enrichment response contained no choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	var out Result
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Result{}, fmt.Errorf("failed to parse enrichment content: %w", err)
	}
	return out, nil
}
