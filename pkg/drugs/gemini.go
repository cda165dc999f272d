package drugs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yclin-dev/medremind/pkg/config"
)

const defaultGeminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// Generator produces text for a prompt. The drug service depends on
// this interface so tests can substitute a canned implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiBase    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewGeminiClient(cfg config.GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultGeminiAPIBase
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}

	return &GeminiClient{
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
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
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiBase, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("gemini API HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse gemini response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("gemini API error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response has no candidates")
	}

	return strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text), nil
}
