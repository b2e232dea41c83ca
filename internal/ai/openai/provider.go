package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thisreply/thisreply/internal/ai"
	"github.com/thisreply/thisreply/internal/domain"
)

const (
	// APIBaseURL is the base URL for the OpenAI chat completions API
	APIBaseURL = "https://api.openai.com/v1/chat/completions"

	// DefaultModel is the default model to use
	DefaultModel = "gpt-4.1-nano"

	// MaxImageSize is the maximum image size in bytes (5MB)
	MaxImageSize = 5 * 1024 * 1024

	// notDatingSentinel is the error marker the model returns when the
	// screenshot is not a conversation
	notDatingSentinel = "NOT_DATING_CONTENT"
)

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	ProviderConfig ai.ProviderConfig
}

// Provider implements the Provider interface using OpenAI's vision-capable
// chat completions API
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new OpenAI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// AnalyzeScreenshot analyzes a dating app conversation screenshot
func (p *Provider) AnalyzeScreenshot(ctx context.Context, params ai.AnalyzeParams) (*ai.Result, error) {
	startTime := time.Now()

	if err := p.validateParams(params); err != nil {
		return nil, ai.WrapError("analyze screenshot", err)
	}

	body, err := p.buildRequestBody(params)
	if err != nil {
		return nil, ai.WrapError("build request", err)
	}

	resp, err := p.executeWithRetry(ctx, body)
	if err != nil {
		return nil, ai.WrapError("execute request", err)
	}

	result, err := p.parseResponse(resp)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	result.Usage = ai.UsageInfo{
		Model:        p.config.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(startTime),
	}

	return result, nil
}

// validateParams validates the analysis parameters
func (p *Provider) validateParams(params ai.AnalyzeParams) error {
	if len(params.ImageData) == 0 {
		return ai.EAIInvalidImage
	}
	if len(params.ImageData) > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds maximum %d", ai.EAIInvalidImage, len(params.ImageData), MaxImageSize)
	}
	validTypes := map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/heic": true,
		"image/webp": true,
	}
	if !validTypes[params.ContentType] {
		return fmt.Errorf("%w: unsupported content type %s", ai.EAIInvalidImage, params.ContentType)
	}
	return nil
}

// buildRequestBody builds the JSON body for a vision chat completion
func (p *Provider) buildRequestBody(params ai.AnalyzeParams) ([]byte, error) {
	imageURL := fmt.Sprintf("data:%s;base64,%s",
		params.ContentType, base64.StdEncoding.EncodeToString(params.ImageData))

	reqBody := apiRequest{
		Model:     p.config.Model,
		MaxTokens: 2048,
		ResponseFormat: &apiResponseFormat{
			Type: "json_object",
		},
		Messages: []apiMessage{
			{
				Role: "user",
				Content: []apiContent{
					{
						Type: "text",
						Text: analysisPrompt,
					},
					{
						Type: "image_url",
						ImageURL: &apiImageURL{
							URL: imageURL,
						},
					},
				},
			},
		},
	}

	return json.Marshal(reqBody)
}

// executeWithRetry executes the request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, body []byte) (*apiResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.executeRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Exponential backoff: base * 2^(attempt-1)
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", APIBaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to provider errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		if errResp.Error.Code == "invalid_image" || errResp.Error.Code == "invalid_image_format" {
			return ai.EAIInvalidImage
		}
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

// parseResponse parses the completion into a Result
func (p *Provider) parseResponse(resp *apiResponse) (*ai.Result, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ai.EAIBadResponse)
	}

	textContent := resp.Choices[0].Message.Content
	if textContent == "" {
		return nil, fmt.Errorf("%w: empty message content", ai.EAIBadResponse)
	}

	var output analysisOutput
	if err := json.Unmarshal([]byte(textContent), &output); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.EAIBadResponse, err)
	}

	if output.Error == notDatingSentinel {
		return nil, ai.EAINotDatingContent
	}
	if output.Error != "" {
		return nil, fmt.Errorf("%w: model error %q", ai.EAIBadResponse, output.Error)
	}

	result := &ai.Result{
		Suggestions: domain.ReplySuggestions{
			Witty:    output.Witty,
			Romantic: output.Romantic,
			Savage:   output.Savage,
		},
		ContextSummary: output.ContextSummary,
	}

	if err := ai.ValidateSuggestions(result.Suggestions); err != nil {
		return nil, err
	}

	return result, nil
}

// API request/response types

type apiRequest struct {
	Model          string             `json:"model"`
	MaxTokens      int                `json:"max_tokens"`
	ResponseFormat *apiResponseFormat `json:"response_format,omitempty"`
	Messages       []apiMessage       `json:"messages"`
}

type apiResponseFormat struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiChoiceMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type apiChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// analysisOutput represents the JSON structure returned by the model
type analysisOutput struct {
	Error          string   `json:"error,omitempty"`
	Witty          []string `json:"witty"`
	Romantic       []string `json:"romantic"`
	Savage         []string `json:"savage"`
	ContextSummary string   `json:"context_summary"`
}
