package mock

import (
	"context"
	"log/slog"
	"time"

	"github.com/thisreply/thisreply/internal/ai"
	"github.com/thisreply/thisreply/internal/domain"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	AnalyzeResponse *ai.Result
	AnalyzeError    error

	// Call tracking for testing
	AnalyzeCalls int
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// AnalyzeScreenshot returns a canned set of reply suggestions
func (p *Provider) AnalyzeScreenshot(ctx context.Context, params ai.AnalyzeParams) (*ai.Result, error) {
	p.AnalyzeCalls++

	// If a custom response or error is set, use it
	if p.AnalyzeError != nil {
		return nil, p.AnalyzeError
	}
	if p.AnalyzeResponse != nil {
		return p.AnalyzeResponse, nil
	}

	// Default canned response
	return &ai.Result{
		Suggestions: domain.ReplySuggestions{
			Witty: []string{
				"So you're telling me there's a chance... of you explaining that movie take over coffee?",
				"Bold of you to assume I wasn't going to ask you out first",
				"I was going to play it cool but you ruined that plan completely",
			},
			Romantic: []string{
				"Honestly, talking to you has been the best part of my week",
				"I'd love to continue this conversation somewhere that isn't an app",
				"You have a way of making even small talk feel like the good kind of butterflies",
			},
			Savage: []string{
				"Took you long enough to say something interesting",
				"I'll allow it, but only because your taste in music checks out",
				"You're lucky you're cute because that pun was a crime",
			},
		},
		ContextSummary: "Playful early conversation with mutual interest and an opening to suggest a date.",
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  850,
			OutputTokens: 320,
			Duration:     250 * time.Millisecond,
		},
	}, nil
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.AnalyzeCalls = 0
	p.AnalyzeResponse = nil
	p.AnalyzeError = nil
}
