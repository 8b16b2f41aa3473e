// Package watsonx provides the IBM WatsonX text-generation client used to
// render patient-friendly documents.
package watsonx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/pkg/logger"
)

const (
	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB

	generationPath = "/ml/v1/text/generation?version=2024-05-01"
)

// Generator produces patient-friendly text from a prompt. Implemented by
// Client and by the mock used in tests.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// GenerationRequest is a single model invocation.
type GenerationRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerationResult is the parsed model output.
type GenerationResult struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
}

// Config holds WatsonX client configuration.
type Config struct {
	APIKey    string
	ProjectID string
	ModelID   string
	BaseURL   string
	IAMURL    string
	Timeout   time.Duration
}

// Client calls the WatsonX text-generation API with a cached IAM bearer
// token.
type Client struct {
	httpClient *http.Client
	tokens     *iamTokenSource
	baseURL    string
	projectID  string
	modelID    string
	log        *logger.Logger
}

var _ Generator = (*Client)(nil)

// NewClient builds a WatsonX client from config.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("watsonx api key is required")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("watsonx project id is required")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("watsonx model id is required")
	}
	if log == nil {
		log = logger.NewDefault("watsonx")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	return &Client{
		httpClient: httpClient,
		tokens:     newIAMTokenSource(httpClient, strings.TrimSpace(cfg.IAMURL), cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		projectID:  cfg.ProjectID,
		modelID:    cfg.ModelID,
		log:        log,
	}, nil
}

// Generate invokes the model. A 401 from the generation endpoint invalidates
// the cached IAM token and the call is retried once with a fresh token.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	result, retriable, err := c.generateOnce(ctx, req)
	if err != nil && retriable {
		c.log.WithContext(ctx).Warn("bearer token rejected; refreshing and retrying")
		c.tokens.Invalidate()
		result, _, err = c.generateOnce(ctx, req)
	}
	return result, err
}

func (c *Client) generateOnce(ctx context.Context, req GenerationRequest) (GenerationResult, bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return GenerationResult{}, false, fmt.Errorf("acquire IAM token: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 900
	}

	payload := map[string]interface{}{
		"model_id":   c.modelID,
		"project_id": c.projectID,
		"input":      req.Prompt,
		"parameters": map[string]interface{}{
			"decoding_method":       "greedy",
			"max_new_tokens":        maxTokens,
			"temperature":           req.Temperature,
			"repetition_penalty":    1.05,
			"stop_sequences":        []string{},
			"include_stop_sequence": false,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerationResult{}, false, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generationPath, bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, false, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return GenerationResult{}, false, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return GenerationResult{}, true, fmt.Errorf("generation request unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		errBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return GenerationResult{}, false, fmt.Errorf("generation error %d: read body: %w", resp.StatusCode, readErr)
		}
		msg := strings.TrimSpace(string(errBody))
		if truncated {
			msg += "...(truncated)"
		}
		return GenerationResult{}, false, fmt.Errorf("generation error %d: %s", resp.StatusCode, msg)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return GenerationResult{}, false, fmt.Errorf("read generation response: %w", err)
	}

	first := gjson.GetBytes(respBody, "results.0")
	text := first.Get("generated_text").String()
	if text == "" {
		return GenerationResult{}, false, fmt.Errorf("generation response missing generated_text")
	}

	return GenerationResult{
		Text:         text,
		Model:        gjson.GetBytes(respBody, "model_id").String(),
		PromptTokens: int(first.Get("input_token_count").Int()),
		OutputTokens: int(first.Get("generated_token_count").Int()),
	}, false, nil
}
