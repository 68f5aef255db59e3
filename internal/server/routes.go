package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tomelabs/tome/internal/chunker"
	"github.com/tomelabs/tome/internal/feedback"
	"github.com/tomelabs/tome/internal/schedule"
	"github.com/tomelabs/tome/internal/store"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /users", s.handleRegisterUser)

	mux.HandleFunc("POST /books", s.handleSubmitBook)
	mux.HandleFunc("GET /books/{id}/status", s.handleBookStatus)

	mux.HandleFunc("POST /schedules/activate", s.handleActivate)
	mux.HandleFunc("POST /schedules/pause", s.handlePause)
	mux.HandleFunc("POST /schedules/resume", s.handleResume)
	mux.HandleFunc("POST /schedules/restart", s.handleRestart)
	mux.HandleFunc("GET /schedules", s.handleScheduleEntries)
	mux.HandleFunc("GET /due", s.handleDue)

	mux.HandleFunc("POST /responses", s.handleRecordResponse)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// UserRequest is the body for POST /users.
type UserRequest struct {
	ID                   string `json:"id"`
	Timezone             string `json:"timezone"`
	NotifyAt             string `json:"notify_at"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	user, err := s.engine.RegisterUser(r.Context(), store.User{
		ID:                   req.ID,
		Timezone:             req.Timezone,
		NotifyAt:             req.NotifyAt,
		NotificationsEnabled: req.NotificationsEnabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SubmitBookRequest is the body for POST /books.
type SubmitBookRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Chapters []struct {
		Ref   string `json:"ref"`
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"chapters"`
}

// SubmitBookResponse is the response for POST /books.
type SubmitBookResponse struct {
	BookID string `json:"book_id"`
}

func (s *Server) handleSubmitBook(w http.ResponseWriter, r *http.Request) {
	var req SubmitBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Chapters) == 0 {
		writeError(w, http.StatusBadRequest, "at least one chapter is required")
		return
	}

	book := chunker.Book{Title: req.Title, Author: req.Author}
	for _, ch := range req.Chapters {
		book.Chapters = append(book.Chapters, chunker.Chapter{
			Ref:   ch.Ref,
			Title: ch.Title,
			Text:  ch.Text,
		})
	}

	bookID, err := s.engine.SubmitBook(r.Context(), book)
	if err != nil {
		if errors.Is(err, chunker.ErrNoText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitBookResponse{BookID: bookID})
}

func (s *Server) handleBookStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ProcessingStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ScheduleRequest is the body for schedule lifecycle endpoints.
type ScheduleRequest struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

func (s *Server) decodeScheduleRequest(w http.ResponseWriter, r *http.Request) (*ScheduleRequest, bool) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.UserID == "" || req.BookID == "" {
		writeError(w, http.StatusBadRequest, "user_id and book_id are required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.engine.ActivateSchedule(r.Context(), req.UserID, req.BookID)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.PauseSchedule(r.Context(), req.UserID, req.BookID); err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResumeSchedule(r.Context(), req.UserID, req.BookID); err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.engine.RestartSchedule(r.Context(), req.UserID, req.BookID)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

func (s *Server) handleScheduleEntries(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	bookID := r.URL.Query().Get("book_id")
	if userID == "" || bookID == "" {
		writeError(w, http.StatusBadRequest, "user_id and book_id are required")
		return
	}
	entries, err := s.engine.ScheduleEntries(r.Context(), userID, bookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.DueEntries(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ResponseRequest is the body for POST /responses.
type ResponseRequest struct {
	EntryID string `json:"entry_id"`
	Text    string `json:"text"`
}

func (s *Server) handleRecordResponse(w http.ResponseWriter, r *http.Request) {
	var req ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EntryID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "entry_id and text are required")
		return
	}

	result, err := s.engine.RecordResponse(r.Context(), req.EntryID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, feedback.ErrNotDelivered):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeScheduleError maps schedule lifecycle errors to status codes.
func writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrScheduleConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, schedule.ErrBookNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, schedule.ErrNoActiveSchedule):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
