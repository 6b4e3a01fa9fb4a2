package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lox/throne/internal/journal"
	"github.com/lox/throne/internal/throne"
)

const maxEventsLimit = 1000

// EventsData is the response of the events endpoint.
type EventsData struct {
	Events []throne.EventRecord `json:"events"`
}

// requestLogger logs each HTTP request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorData{Code: code, Message: message})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK") // Ignore write errors for health check
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StateDataFromGame(s.game))
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, throne.Code(throne.ErrInvalidIdentity), "identity required")
		return
	}
	s.writeJSON(w, http.StatusOK, PendingData{
		Identity: id,
		Amount:   s.game.PendingWinnings(throne.Identity(id)),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal_disabled", "event journal is not configured")
		return
	}

	var q journal.Query
	if v := r.URL.Query().Get("round"); v != "" {
		round, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_query", "round must be a positive integer")
			return
		}
		q.Round = round
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
			return
		}
		q.Limit = min(limit, maxEventsLimit)
	}

	events, err := s.events.Events(r.Context(), q)
	if err != nil {
		s.logger.Error("Failed to query events", "error", err, "requestId", middleware.GetReqID(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to query events")
		return
	}
	if events == nil {
		events = []throne.EventRecord{}
	}
	s.writeJSON(w, http.StatusOK, EventsData{Events: events})
}
