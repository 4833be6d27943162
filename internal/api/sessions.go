package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

const defaultAbortReason = "aborted via API"

type upsertRequest struct {
	Index    string         `json:"index"`
	Settings map[string]any `json:"settings"`
}

type abortRequest struct {
	Reason string `json:"reason"`
}

type sessionDTO struct {
	Name   string         `json:"name"`
	Kind   session.Kind   `json:"kind"`
	Status session.Status `json:"status"`
}

type definitionDTO struct {
	Name     string         `json:"name"`
	Index    string         `json:"index"`
	Settings map[string]any `json:"settings"`
}

// service resolves the {kind} URL parameter to its manager.
func (s *Server) service(r *http.Request) (SessionService, session.Kind, error) {
	kind, err := session.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, "", err
	}
	svc, ok := s.deps.Sessions[kind]
	if !ok {
		return nil, "", fmt.Errorf("collector kind %q is not enabled: %w", kind, session.ErrNotFound)
	}
	return svc, kind, nil
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	svc, kind, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	start, rows, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keywords := r.URL.Query().Get("keywords")
	sessions := svc.List(r.Context(), keywords, start, rows)
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionDTO(kind, sess.Name, sess.Status))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) upsertSession(w http.ResponseWriter, r *http.Request) {
	svc, kind, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req upsertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	status, err := svc.Upsert(r.Context(), name, session.Definition{Settings: req.Settings}, req.Index)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(kind, name, status))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	svc, kind, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sess, err := svc.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(kind, sess.Name, sess.Status))
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	svc, _, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	indexName, def, err := svc.GetDefinition(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	settings := def.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	writeJSON(w, http.StatusOK, definitionDTO{Name: name, Index: indexName, Settings: settings})
}

func (s *Server) runSession(w http.ResponseWriter, r *http.Request) {
	svc, kind, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	status, err := svc.Run(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionDTO(kind, name, status))
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	svc, _, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req abortRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultAbortReason
	}
	aborted := svc.Abort(r.Context(), chi.URLParam(r, "name"), reason)
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	svc, _, err := s.service(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := svc.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func toSessionDTO(kind session.Kind, name string, status session.Status) sessionDTO {
	return sessionDTO{Name: name, Kind: kind, Status: status}
}
