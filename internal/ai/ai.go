package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thisreply/thisreply/internal/domain"
)

// Provider defines the interface for AI-powered conversation analysis
type Provider interface {
	// AnalyzeScreenshot analyzes a dating app conversation screenshot and
	// generates reply suggestions in each tone category
	AnalyzeScreenshot(ctx context.Context, params AnalyzeParams) (*Result, error)
}

// AnalyzeParams contains parameters for screenshot analysis
type AnalyzeParams struct {
	ImageData   []byte    // Raw image bytes
	ContentType string    // MIME type (e.g., "image/jpeg")
	UserID      uuid.UUID // User ID for tracking
}

// Result contains the complete analysis of a conversation screenshot
type Result struct {
	Suggestions    domain.ReplySuggestions // Reply suggestions per tone category
	ContextSummary string                  // Short summary of the conversation state
	Usage          UsageInfo               // Token usage information
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// MinSuggestionsPerTone is the minimum number of replies the model must
// produce in each tone category for a result to be usable.
const MinSuggestionsPerTone = 2

// ValidateSuggestions checks that a model response carries enough replies in
// every tone category.
func ValidateSuggestions(s domain.ReplySuggestions) error {
	if len(s.Witty) < MinSuggestionsPerTone {
		return fmt.Errorf("%w: got %d witty suggestions", EAIBadResponse, len(s.Witty))
	}
	if len(s.Romantic) < MinSuggestionsPerTone {
		return fmt.Errorf("%w: got %d romantic suggestions", EAIBadResponse, len(s.Romantic))
	}
	if len(s.Savage) < MinSuggestionsPerTone {
		return fmt.Errorf("%w: got %d savage suggestions", EAIBadResponse, len(s.Savage))
	}
	return nil
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAINotDatingContent indicates the image is not a dating app conversation
	EAINotDatingContent = errors.New("image is not a dating conversation")

	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAIBadResponse indicates the model returned an unusable response
	EAIBadResponse = errors.New("ai provider returned malformed response")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable) ||
		errors.Is(err, EAIBadResponse)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
