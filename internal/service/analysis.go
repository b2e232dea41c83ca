// Package service contains the business logic layer.
//
// This file implements the screenshot analysis pipeline: quota admission,
// AI analysis, PII redaction, screenshot retention, and usage accounting.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thisreply/thisreply/internal/ai"
	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/pii"
	"github.com/thisreply/thisreply/internal/storage"
	"github.com/thisreply/thisreply/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// AnalysisService defines the screenshot analysis operations.
type AnalysisService interface {
	// Analyze runs the full pipeline for one uploaded screenshot and
	// returns the stored analysis.
	//
	// Quota is consumed only when the user receives suggestions: provider
	// failures and non-conversation uploads do not count against the daily
	// window.
	Analyze(ctx context.Context, user *domain.User, imageData []byte, contentType string) (*domain.Analysis, error)

	// History returns the user's recent analyses, newest first.
	History(ctx context.Context, userID uuid.UUID) ([]domain.Analysis, error)
}

// =============================================================================
// Implementation
// =============================================================================

type analysisService struct {
	store        *store.Store
	entitlements EntitlementService
	provider     ai.Provider
	files        storage.Storage
	thumbnails   ThumbnailProcessor
	logger       *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	st *store.Store,
	entitlements EntitlementService,
	provider ai.Provider,
	files storage.Storage,
	thumbnails ThumbnailProcessor,
	logger *slog.Logger,
) AnalysisService {
	return &analysisService{
		store:        st,
		entitlements: entitlements,
		provider:     provider,
		files:        files,
		thumbnails:   thumbnails,
		logger:       logger,
	}
}

// Analyze runs the full analysis pipeline.
func (s *analysisService) Analyze(ctx context.Context, user *domain.User, imageData []byte, contentType string) (*domain.Analysis, error) {
	const op = "AnalysisService.Analyze"

	if len(imageData) == 0 {
		return nil, domain.Invalid(op, "Screenshot is required")
	}
	if !storage.IsAllowedScreenshotType(contentType) {
		return nil, domain.Invalid(op, "Unsupported image format. Upload a PNG, JPEG, WebP, or HEIC screenshot.")
	}

	// Admission decision. EQUOTA propagates to the client with an upgrade
	// path; nothing below runs for a denied request.
	role, err := s.entitlements.Admit(ctx, user)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.provider.AnalyzeScreenshot(ctx, ai.AnalyzeParams{
		ImageData:   imageData,
		ContentType: contentType,
		UserID:      user.ID,
	})
	if err != nil {
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		if errors.Is(err, ai.EAINotDatingContent) {
			return nil, domain.Invalid(op, "That screenshot doesn't look like a dating app conversation. Try uploading a chat screenshot.")
		}
		if errors.Is(err, ai.EAIInvalidImage) {
			return nil, domain.Invalid(op, "We couldn't read that image. Try a different screenshot.")
		}
		return nil, domain.Upstream(err, op, "Analysis failed. Please try again in a moment.")
	}
	metrics.AIAPICalls.WithLabelValues("ok").Inc()
	metrics.AITokensTotal.WithLabelValues("input").Add(float64(result.Usage.InputTokens))
	metrics.AITokensTotal.WithLabelValues("output").Add(float64(result.Usage.OutputTokens))

	// Strip phone numbers, emails, and the like before anything is stored
	// or returned.
	suggestions := redactSuggestions(result.Suggestions)
	contextSummary := pii.Redact(result.ContextSummary)

	// Retain the screenshot and a history thumbnail. Retention is best
	// effort: the user still gets their suggestions if storage misbehaves.
	screenshotKey, thumbnailKey := s.retainScreenshot(ctx, user.ID, imageData, contentType)

	analysis, err := s.store.Analyses.Create(ctx, &domain.Analysis{
		UserID:         user.ID,
		Responses:      suggestions,
		ContextSummary: contextSummary,
		ScreenshotKey:  screenshotKey,
		ThumbnailKey:   thumbnailKey,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to save analysis")
	}

	// The gated action succeeded; count it.
	if err := s.entitlements.RecordUsage(ctx, user.ID, role); err != nil {
		// The user already has their result. Log and return it anyway.
		s.logger.Error("failed to record usage", "user_id", user.ID, "error", err)
	}

	metrics.AnalysesTotal.WithLabelValues(string(role)).Inc()
	s.logger.Info("analysis completed",
		"user_id", user.ID,
		"analysis_id", analysis.ID,
		"role", role,
		"model", result.Usage.Model,
		"duration", time.Since(start),
	)

	return analysis, nil
}

// History returns the user's recent analyses.
func (s *analysisService) History(ctx context.Context, userID uuid.UUID) ([]domain.Analysis, error) {
	const op = "AnalysisService.History"

	analyses, err := s.store.Analyses.ListByUser(ctx, userID, domain.HistoryPageLimit)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load history")
	}
	return analyses, nil
}

// retainScreenshot stores the original upload and a thumbnail, returning the
// storage keys. Either key may be empty on failure.
func (s *analysisService) retainScreenshot(ctx context.Context, userID uuid.UUID, imageData []byte, contentType string) (screenshotKey, thumbnailKey string) {
	screenshotKey = storage.ScreenshotKey(userID, contentType)
	err := s.files.Put(ctx, screenshotKey, bytes.NewReader(imageData), storage.PutOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Warn("failed to store screenshot", "user_id", userID, "error", err)
		return "", ""
	}

	thumb, err := s.thumbnails.GenerateThumbnail(bytes.NewReader(imageData), ThumbnailMaxWidth, ThumbnailMaxHeight)
	if err != nil {
		// HEIC uploads land here: the decoder doesn't handle them. History
		// falls back to the full screenshot.
		s.logger.Warn("failed to generate thumbnail", "user_id", userID, "error", err)
		return screenshotKey, ""
	}

	thumbnailKey = storage.ThumbnailKey(userID)
	err = s.files.Put(ctx, thumbnailKey, bytes.NewReader(thumb), storage.PutOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		s.logger.Warn("failed to store thumbnail", "user_id", userID, "error", err)
		return screenshotKey, ""
	}

	return screenshotKey, thumbnailKey
}

// redactSuggestions applies PII redaction to every generated reply.
func redactSuggestions(s domain.ReplySuggestions) domain.ReplySuggestions {
	return domain.ReplySuggestions{
		Witty:    redactAll(s.Witty),
		Romantic: redactAll(s.Romantic),
		Savage:   redactAll(s.Savage),
	}
}

func redactAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = pii.Redact(s)
	}
	return out
}

// Ensure analysisService implements AnalysisService
var _ AnalysisService = (*analysisService)(nil)
