package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/report"
	"github.com/JakeFAU/review-insights/internal/review"
)

const (
	defaultLang         = "en"
	defaultCountry      = "us"
	defaultCount        = 100
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// csvHeader is the column order of the review export.
var csvHeader = []string{
	"Session ID",
	"App ID",
	"Review ID",
	"User Name",
	"Rating",
	"Date",
	"Content",
	"Original Content",
	"Cleaned Content",
	"Processed Content",
	"Thumbs Up",
}

type scrapeRequest struct {
	AppID       string `json:"app_id" validate:"required,max=255"`
	Lang        string `json:"lang" validate:"omitempty,max=16"`
	Country     string `json:"country" validate:"omitempty,max=16"`
	FilterScore *int   `json:"filter_score" validate:"omitempty,min=1,max=5"`
	Count       *int   `json:"count" validate:"omitempty,min=1"`
	Sort        string `json:"sort" validate:"omitempty,oneof=NEWEST MOST_RELEVANT RATING"`
	// ForceNew is accepted and ignored; every request starts a new session.
	ForceNew bool `json:"force_new"`
}

type scrapeResponse struct {
	SessionID int64  `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Cached    bool   `json:"cached"`
}

type statusResponse struct {
	SessionID      int64         `json:"session_id"`
	Status         review.Status `json:"status"`
	ReviewCount    int           `json:"review_count"`
	ProcessedCount int           `json:"processed_count"`
	AppID          string        `json:"app_id"`
	Lang           string        `json:"lang"`
	Country        string        `json:"country"`
	Note           string        `json:"note,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
}

func (s *Server) toParams(req scrapeRequest) (review.SessionParams, error) {
	req.AppID = strings.TrimSpace(req.AppID)
	req.Sort = strings.ToUpper(strings.TrimSpace(req.Sort))
	if err := s.validate.Struct(req); err != nil {
		return review.SessionParams{}, validationError(err)
	}
	count := defaultCount
	if req.Count != nil {
		count = *req.Count
	}
	if limit := s.cfg.Scraper.MaxCount; limit > 0 && count > limit {
		return review.SessionParams{}, &review.ValidationError{
			Field:   "count",
			Message: fmt.Sprintf("must be at most %d", limit),
		}
	}
	params := review.SessionParams{
		AppID:       req.AppID,
		Lang:        strings.ToLower(valueOrDefault(req.Lang, defaultLang)),
		Country:     strings.ToLower(valueOrDefault(req.Country, defaultCountry)),
		FilterScore: req.FilterScore,
		Count:       count,
		Sort:        review.ParseSortOrder(req.Sort),
	}
	return params, nil
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toParams(req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, err := s.coordinator.Start(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		SessionID: id,
		Status:    "started",
		Message:   "Scraping started successfully",
		Cached:    false,
	})
}

func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	raw, err := s.sessions.CountRaw(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	processed, err := s.sessions.CountProcessed(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:      id,
		Status:         session.Status,
		ReviewCount:    raw,
		ProcessedCount: processed,
		AppID:          session.AppID,
		Lang:           session.Lang,
		Country:        session.Country,
		Note:           session.Note,
		CreatedAt:      session.CreatedAt,
		FinishedAt:     session.FinishedAt,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.sessions.ListSessions(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []review.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	stats, err := s.views.GetStatistics(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) reviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", report.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.views.GetPage(r.Context(), id, page, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) downloadReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	session, rows, err := s.views.GetAllForExport(r.Context(), id)
	if err != nil && !errors.Is(err, review.ErrNotFound) {
		s.writeServiceError(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no reviews found for this session")
		return
	}
	body, err := encodeCSV(rows)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filename := fmt.Sprintf("reviews_%s_%d.csv", session.AppID, id)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write csv failed", logging.Session(id), zap.Error(err))
	}
}

func encodeCSV(rows []review.ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.SessionID, 10),
			row.AppID,
			row.ReviewID,
			row.UserName,
			strconv.Itoa(row.Score),
			formatTime(row.At),
			row.Content,
			row.Original,
			row.Cleaned,
			row.Stemmed,
			strconv.Itoa(row.ThumbsUp),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", row.ReviewID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}

func (s *Server) wordCloud(w http.ResponseWriter, r *http.Request) {
	s.image(w, r, s.views.RenderWordCloud)
}

func (s *Server) ratingChart(w http.ResponseWriter, r *http.Request) {
	s.image(w, r, s.views.RenderRatingChart)
}

func (s *Server) image(
	w http.ResponseWriter,
	r *http.Request,
	render func(ctx context.Context, sessionID int64) ([]byte, error),
) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	img, err := render(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(img) == 0 {
		writeError(w, http.StatusNotFound, "nothing to render for this session")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		s.logger.Warn("write image failed", logging.Session(id), zap.Error(err))
	}
}

// writeServiceError maps domain errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *review.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, review.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

func parseSessionID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return 0, errors.New("session_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid session_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return val, nil
}

func valueOrDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &review.ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	msg := "is invalid"
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = "must be at least " + fe.Param()
	case "max":
		msg = "must be at most " + fe.Param()
	case "oneof":
		msg = "must be one of " + fe.Param()
	}
	return &review.ValidationError{Field: fe.Field(), Message: msg}
}
