package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"endless-chat/internal/domain"
	"endless-chat/internal/infra/logging"
)

type textRequest struct {
	Text string `json:"text"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type backgroundRequest struct {
	Background bool `json:"background"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

func (s *Server) handleSystemRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.uc.SetSystemRole(r.Context(), req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.uc.SetInput(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

// handleSubmit optionally sets the input from the body before submitting.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text != "" {
		s.uc.SetInput(r.Context(), req.Text)
	}
	if err := s.uc.Submit(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.uc.Snapshot())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Retry(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.uc.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.uc.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.uc.Clear(r.Context())
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	var req backgroundRequest
	if !decode(w, r, &req) {
		return
	}
	s.uc.SetBackground(req.Background)
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	s.uc.SetSuggestionsEnabled(r.Context(), req.Enabled)
	writeJSON(w, http.StatusOK, s.uc.Snapshot())
}

// handleEvents streams "state" and "notice" events, starting with the
// current snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	first, err := json.Marshal(s.uc.Snapshot())
	if err != nil {
		return
	}
	writeEvent(w, Event{Name: "state", Data: first})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrRequestInFlight),
		errors.Is(err, domain.ErrNothingToRetry),
		errors.Is(err, domain.ErrSystemRoleLocked):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
