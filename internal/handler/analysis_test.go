package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/middleware"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n" + "fakepixels")

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func analyzeRequest(t *testing.T, user *domain.User, field string, data []byte) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, field, "chat.png", data)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	if user != nil {
		req = req.WithContext(middleware.SetUser(req.Context(), user))
	}
	return req
}

func TestAnalyze_Success(t *testing.T) {
	user := testUser()
	stored := &domain.Analysis{
		ID:     uuid.New(),
		UserID: user.ID,
		Responses: domain.ReplySuggestions{
			Witty:    []string{"w1", "w2", "w3"},
			Romantic: []string{"r1", "r2", "r3"},
			Savage:   []string{"s1", "s2", "s3"},
		},
		ContextSummary: "They are planning a first date.",
		ThumbnailKey:   "thumbnails/" + user.ID.String() + "/abc.jpg",
		CreatedAt:      time.Now().UTC(),
	}

	svc := &fakeAnalysisService{
		AnalyzeFunc: func(ctx context.Context, u *domain.User, imageData []byte, contentType string) (*domain.Analysis, error) {
			assert.Equal(t, user.ID, u.ID)
			assert.Equal(t, pngHeader, imageData)
			assert.Equal(t, "image/png", contentType)
			return stored, nil
		},
	}

	h := NewAnalysisHandler(svc, &fakeStorage{}, 5<<20, newTestLogger())

	rec := httptest.NewRecorder()
	h.Analyze(rec, analyzeRequest(t, user, "screenshot", pngHeader))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp analysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, stored.ID.String(), resp.ID)
	assert.Len(t, resp.Responses.Witty, 3)
	assert.Equal(t, "https://cdn.example.com/"+stored.ThumbnailKey, resp.ThumbnailURL)
}

func TestAnalyze_QuotaExceeded_Returns429(t *testing.T) {
	svc := &fakeAnalysisService{
		AnalyzeFunc: func(ctx context.Context, u *domain.User, imageData []byte, contentType string) (*domain.Analysis, error) {
			return nil, domain.QuotaExceeded("EntitlementService.Admit", 2, 2)
		},
	}

	h := NewAnalysisHandler(svc, &fakeStorage{}, 5<<20, newTestLogger())

	rec := httptest.NewRecorder()
	h.Analyze(rec, analyzeRequest(t, testUser(), "screenshot", pngHeader))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.EQUOTA)
}

func TestAnalyze_NotDatingContent_Returns400(t *testing.T) {
	svc := &fakeAnalysisService{
		AnalyzeFunc: func(ctx context.Context, u *domain.User, imageData []byte, contentType string) (*domain.Analysis, error) {
			return nil, domain.Invalid("AnalysisService.Analyze",
				"That screenshot doesn't look like a dating app conversation.")
		},
	}

	h := NewAnalysisHandler(svc, &fakeStorage{}, 5<<20, newTestLogger())

	rec := httptest.NewRecorder()
	h.Analyze(rec, analyzeRequest(t, testUser(), "screenshot", pngHeader))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dating app conversation")
}

func TestAnalyze_MissingFile_Returns400(t *testing.T) {
	h := NewAnalysisHandler(&fakeAnalysisService{}, &fakeStorage{}, 5<<20, newTestLogger())

	rec := httptest.NewRecorder()
	h.Analyze(rec, analyzeRequest(t, testUser(), "wrongfield", pngHeader))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing screenshot file")
}

func TestAnalyze_NoUser_Returns401(t *testing.T) {
	h := NewAnalysisHandler(&fakeAnalysisService{}, &fakeStorage{}, 5<<20, newTestLogger())

	rec := httptest.NewRecorder()
	h.Analyze(rec, analyzeRequest(t, nil, "screenshot", pngHeader))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistory_ReturnsAnalyses(t *testing.T) {
	user := testUser()
	svc := &fakeAnalysisService{
		HistoryFunc: func(ctx context.Context, userID uuid.UUID) ([]domain.Analysis, error) {
			assert.Equal(t, user.ID, userID)
			return []domain.Analysis{
				{ID: uuid.New(), ThumbnailKey: "thumbnails/a.jpg"},
				{ID: uuid.New(), ScreenshotKey: "screenshots/b.png"}, // thumbnail missing, falls back
				{ID: uuid.New()}, // retention swept the files
			}, nil
		},
	}

	h := NewAnalysisHandler(svc, &fakeStorage{}, 5<<20, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req = req.WithContext(middleware.SetUser(req.Context(), user))
	rec := httptest.NewRecorder()
	h.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Analyses []analysisResponse `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Analyses, 3)
	assert.Equal(t, "https://cdn.example.com/thumbnails/a.jpg", resp.Analyses[0].ThumbnailURL)
	assert.Equal(t, "https://cdn.example.com/screenshots/b.png", resp.Analyses[1].ThumbnailURL)
	assert.Empty(t, resp.Analyses[2].ThumbnailURL)
}
