package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"nanostyle-server/modules/common/dataurl"
	"nanostyle-server/modules/common/gemini"
	"nanostyle-server/modules/intake"
)

const (
	DownloadFileName = "nanostyle-tryon.png"

	// multipart 헤더 여유분
	multipartOverhead = 1 << 20
)

// ResultLookup - 세션이 사라진 뒤 결과 조회 (Redis cache)
type ResultLookup interface {
	LookupResult(ctx context.Context, sessionID string) (string, bool, error)
}

type Handler struct {
	manager        *Manager
	intake         *intake.Intake
	previews       *intake.PreviewRegistry
	results        ResultLookup
	maxUploadBytes int64
}

// NewHandler - results는 nil 가능 (캐시 미사용)
func NewHandler(manager *Manager, in *intake.Intake, previews *intake.PreviewRegistry, results ResultLookup, maxUploadBytes int64) *Handler {
	return &Handler{
		manager:        manager,
		intake:         in,
		previews:       previews,
		results:        results,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes - 라우터에 세션 엔드포인트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sessions", h.CreateSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}", h.GetSession).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/api/sessions/{id}/images/{role}", h.UploadImage).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}/images/{role}", h.ClearImage).Methods("DELETE")
	r.HandleFunc("/api/sessions/{id}/prompt", h.UpdatePrompt).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}/generate", h.Generate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}/edit", h.Edit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/sessions/{id}/result", h.DownloadResult).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/previews/{previewId}", h.GetPreview).Methods("GET")
	r.HandleFunc("/api/suggestions", h.GetSuggestions).Methods("GET", "OPTIONS")
	r.HandleFunc("/metrics", h.GetMetrics).Methods("GET")
	r.HandleFunc("/admin/cleanup", h.ForceCleanup).Methods("POST")
	log.Info().Msg("✅ Session routes registered: /api/sessions, /api/previews, /api/suggestions")
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.manager.Create())
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(mux.Vars(r)["id"]); err != nil {
		h.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadImage - multipart "file" 필드로 이미지 업로드, 파일이 없으면 204 (no-op)
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := ParseRole(vars["role"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.manager.Get(vars["id"]); err != nil {
		h.writeManagerError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file field")
		return
	}
	defer file.Close()

	rec, err := h.intake.Capture(r.Context(), file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, intake.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		log.Error().Err(err).Msg("❌ Failed to capture upload")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	view, err := h.manager.SetImage(vars["id"], role, rec)
	if err != nil {
		h.previews.Release(rec.PreviewHandle)
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ClearImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := ParseRole(vars["role"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.manager.ClearImage(vars["id"], role)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PromptRequest - prompt 또는 suggestion(인덱스) 중 하나
type PromptRequest struct {
	Prompt     *string `json:"prompt,omitempty"`
	Suggestion *int    `json:"suggestion,omitempty"`
}

func (h *Handler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	var (
		view View
		err  error
	)
	switch {
	case req.Suggestion != nil:
		view, err = h.manager.ApplySuggestion(id, *req.Suggestion)
	case req.Prompt != nil:
		view, err = h.manager.SetEditPrompt(id, *req.Prompt)
	default:
		writeError(w, http.StatusBadRequest, "Missing required field: prompt or suggestion")
		return
	}
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Generate(r.Context(), mux.Vars(r)["id"])
	h.writeRequestResult(w, view, err)
}

// EditRequest - prompt가 있으면 같은 준비 검사 안에서 프롬프트 교체
type EditRequest struct {
	Prompt *string `json:"prompt,omitempty"`
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	var (
		view View
		err  error
	)
	if req.Prompt != nil {
		view, err = h.manager.EditWithPrompt(r.Context(), id, *req.Prompt)
	} else {
		view, err = h.manager.Edit(r.Context(), id)
	}
	h.writeRequestResult(w, view, err)
}

// DownloadResult - 결과 PNG 다운로드, 세션이 없으면 결과 캐시 조회
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	resultURL, err := h.manager.Result(id)
	if err != nil && h.results != nil &&
		(errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrResultNotFound)) {
		cached, found, lookupErr := h.results.LookupResult(r.Context(), id)
		switch {
		case lookupErr != nil:
			log.Warn().Err(lookupErr).Str("session", id).Msg("⚠️  Result cache lookup failed")
		case found:
			resultURL, err = cached, nil
		}
	}
	if err != nil {
		h.writeManagerError(w, err)
		return
	}

	parsed, err := dataurl.Parse(resultURL)
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("❌ Stored result is not a valid data URL")
		writeError(w, http.StatusInternalServerError, "Stored result is unreadable")
		return
	}
	data, err := parsed.Bytes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored result is unreadable")
		return
	}

	w.Header().Set("Content-Type", parsed.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+DownloadFileName+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := h.previews.Resolve(mux.Vars(r)["previewId"])
	if !ok {
		writeError(w, http.StatusNotFound, "Preview not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": Suggestions})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server":   h.manager.Metrics().Snapshot(),
		"previews": h.previews.Len(),
	})
}

// ForceCleanup - 만료 세션 즉시 정리 (관리자용)
func (h *Handler) ForceCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := h.manager.CleanupExpired()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "Cleanup completed",
		"cleaned": cleaned,
	})
}

// writeRequestResult - generate/edit 응답
// 200 SUCCESS, 409 준비 안 됨/진행 중, 429 rate limit, 502 모델 실패
func (h *Handler) writeRequestResult(w http.ResponseWriter, view View, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, view)
	case errors.Is(err, ErrRequestFailed):
		status := http.StatusBadGateway
		if gemini.IsRateLimited(err) {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, view)
	default:
		h.writeManagerError(w, err)
	}
}

func (h *Handler) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrResultNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBusy), errors.Is(err, ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSuggestionOutOfRange), errors.Is(err, ErrUnknownRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("❌ Unexpected session error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
