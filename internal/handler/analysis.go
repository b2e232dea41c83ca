package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/middleware"
	"github.com/thisreply/thisreply/internal/service"
	"github.com/thisreply/thisreply/internal/storage"
)

// =============================================================================
// Analysis Handler
// =============================================================================

// thumbnailURLTTL is how long presigned history thumbnail URLs stay valid.
const thumbnailURLTTL = time.Hour

// AnalysisHandler handles screenshot analysis and history.
type AnalysisHandler struct {
	analysisService service.AnalysisService
	files           storage.Storage
	maxUploadBytes  int64
	logger          *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(analysisService service.AnalysisService, files storage.Storage, maxUploadBytes int64, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		files:           files,
		maxUploadBytes:  maxUploadBytes,
		logger:          logger,
	}
}

// RegisterRoutes registers analysis routes on the provided mux.
//
// requireUser must resolve and enforce authentication.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/analyze", requireUser(http.HandlerFunc(h.Analyze)))
	mux.Handle("GET /api/history", requireUser(http.HandlerFunc(h.History)))
}

// =============================================================================
// Response Shapes
// =============================================================================

type analysisResponse struct {
	ID             string                  `json:"id"`
	Responses      domain.ReplySuggestions `json:"responses"`
	ContextSummary string                  `json:"contextSummary"`
	ThumbnailURL   string                  `json:"thumbnailUrl,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// =============================================================================
// Analyze
// =============================================================================

// Analyze handles POST /api/analyze.
//
// Expects a multipart form with a "screenshot" file field.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		ErrorResponse(w, r, h.logger, uploadError(err))
		return
	}

	file, header, err := r.FormFile("screenshot")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Missing screenshot file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ErrorResponse(w, r, h.logger, uploadError(err))
		return
	}

	// Multipart clients often label files application/octet-stream. Treat
	// that as unset so extension and content sniffing decide.
	provided := header.Header.Get("Content-Type")
	if provided == "application/octet-stream" {
		provided = ""
	}
	contentType := storage.DetectContentType(provided, header.Filename, bytes.NewReader(data))

	analysis, err := h.analysisService.Analyze(r.Context(), user, data, contentType)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(r, analysis))
}

// uploadError maps oversized uploads to ETOOLARGE.
func uploadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return domain.Errorf(domain.ETOOLARGE, "", "Screenshot exceeds the maximum upload size")
	}
	return domain.Invalid("", "Could not read the uploaded screenshot")
}

// =============================================================================
// History
// =============================================================================

// History handles GET /api/history.
func (h *AnalysisHandler) History(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	analyses, err := h.analysisService.History(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items := make([]analysisResponse, 0, len(analyses))
	for i := range analyses {
		items = append(items, h.toResponse(r, &analyses[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": items,
	})
}

// toResponse converts a stored analysis to its API shape, resolving the
// thumbnail key to a URL. Falls back to the full screenshot when no
// thumbnail was generated.
func (h *AnalysisHandler) toResponse(r *http.Request, a *domain.Analysis) analysisResponse {
	resp := analysisResponse{
		ID:             a.ID.String(),
		Responses:      a.Responses,
		ContextSummary: a.ContextSummary,
		CreatedAt:      a.CreatedAt,
	}

	key := a.ThumbnailKey
	if key == "" {
		key = a.ScreenshotKey
	}
	if key != "" {
		url, err := h.files.URL(r.Context(), key, thumbnailURLTTL)
		if err != nil {
			h.logger.Warn("failed to build thumbnail url",
				"analysis_id", a.ID.String(), "error", err)
		} else {
			resp.ThumbnailURL = url
		}
	}

	return resp
}
