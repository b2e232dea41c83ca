package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/thisreply/thisreply/internal/domain"
)

// AnalysisStore provides data access to the analyses (reply history) table.
type AnalysisStore struct {
	db DBTX
}

// NewAnalysisStore creates an AnalysisStore backed by the given connection.
func NewAnalysisStore(db DBTX) *AnalysisStore {
	return &AnalysisStore{db: db}
}

// Create inserts a completed analysis.
func (s *AnalysisStore) Create(ctx context.Context, a *domain.Analysis) (*domain.Analysis, error) {
	responses, err := json.Marshal(a.Responses)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO analyses (user_id, responses, context_summary, screenshot_key, thumbnail_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		a.UserID, responses, a.ContextSummary, a.ScreenshotKey, a.ThumbnailKey)

	out := *a
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

// ListByUser returns the user's analyses, newest first, capped at limit.
func (s *AnalysisStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Analysis, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, responses, context_summary, screenshot_key, thumbnail_key, created_at
		FROM analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var responses []byte
		if err := rows.Scan(&a.ID, &a.UserID, &responses, &a.ContextSummary,
			&a.ScreenshotKey, &a.ThumbnailKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(responses, &a.Responses); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the total number of stored analyses.
func (s *AnalysisStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM analyses`).Scan(&n)
	return n, err
}

// CountCreatedSince returns the number of analyses created at or after t.
func (s *AnalysisStore) CountCreatedSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM analyses WHERE created_at >= $1`, t).Scan(&n)
	return n, err
}

// ExpiredRow identifies one analysis past its retention window, along with
// the storage keys that must be removed with it.
type ExpiredRow struct {
	ID            uuid.UUID
	ScreenshotKey string
	ThumbnailKey  string
}

// ListExpired returns analyses past their retention window: rows older than
// the subscribed retention unconditionally, plus rows older than the free
// retention whose owner has no active subscription. Capped at limit so the
// sweeper works in batches.
func (s *AnalysisStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]ExpiredRow, error) {
	freeCutoff := now.Add(-domain.HistoryRetentionFree)
	subscribedCutoff := now.Add(-domain.HistoryRetentionSubscribed)

	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.screenshot_key, a.thumbnail_key
		FROM analyses a
		JOIN entitlements e ON e.user_id = a.user_id
		WHERE a.created_at < $1
		   OR (a.created_at < $2 AND e.subscription_status <> $3)
		ORDER BY a.created_at
		LIMIT $4`,
		subscribedCutoff, freeCutoff, domain.SubscriptionActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiredRow
	for rows.Next() {
		var r ExpiredRow
		if err := rows.Scan(&r.ID, &r.ScreenshotKey, &r.ThumbnailKey); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a single analysis row. Idempotent.
func (s *AnalysisStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	return err
}
