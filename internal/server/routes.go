/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/queuecast/internal/command"
	"github.com/friendsincode/queuecast/internal/library"
	"github.com/friendsincode/queuecast/internal/logbuffer"
	"github.com/friendsincode/queuecast/internal/telemetry"
	"github.com/friendsincode/queuecast/internal/version"
)

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/queue", s.handleQueue)
		r.Post("/queue/commands", s.handleCommand)
		r.Get("/library", s.handleLibrary)
		r.Get("/history", s.handleHistory)
		r.Get("/connections", s.handleConnections)
		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.handleLogs)
			r.Get("/components", s.handleLogComponents)
			r.Get("/stats", s.handleLogStats)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Version,
		"node_id":     s.nodeID,
		"connections": s.registry.Len(),
		"listeners":   s.queue.Listeners(),
		"queue_size":  s.queue.Len(),
	})
}

// handleQueue returns the same metadata document streaming clients receive.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxMessageBytes)))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}

	res, err := s.executor.Handle(r.Context(), "api:"+r.RemoteAddr, body)
	if err != nil {
		status, code := commandErrorStatus(err)
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("admin command rejected")
		writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, command.ErrMalformed), errors.Is(err, command.ErrNotCommand):
		return http.StatusBadRequest, "malformed_command"
	case errors.Is(err, command.ErrUnknownCommand):
		return http.StatusBadRequest, "unknown_command"
	case errors.Is(err, library.ErrInvalidTrackID):
		return http.StatusBadRequest, "invalid_track"
	case errors.Is(err, library.ErrTrackNotFound):
		return http.StatusNotFound, "track_not_found"
	default:
		return http.StatusInternalServerError, "command_failed"
	}
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list library")
		writeError(w, http.StatusInternalServerError, "library_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": entries, "count": len(entries)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	plays, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query play history")
		writeError(w, http.StatusInternalServerError, "history_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plays": plays, "count": len(plays)})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		ConnID:     q.Get("conn_id"),
		Search:     q.Get("search"),
		Descending: q.Get("order") != "asc",
		Limit:      500,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}

	entries := s.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"components": s.logBuffer.GetComponents()})
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.logBuffer.Stats())
}
