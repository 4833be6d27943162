package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createIndexRequest struct {
	Name string `json:"name"`
}

var errCatalogDisabled = errors.New("index catalog unavailable")

func (s *Server) listIndexes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexes == nil {
		writeError(w, http.StatusServiceUnavailable, errCatalogDisabled.Error())
		return
	}
	start, rows, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keywords := r.URL.Query().Get("keywords")
	writeJSON(w, http.StatusOK, map[string]any{"indexes": s.deps.Indexes.List(keywords, start, rows)})
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexes == nil {
		writeError(w, http.StatusServiceUnavailable, errCatalogDisabled.Error())
		return
	}
	var req createIndexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	idx, err := s.deps.Indexes.Create(req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) deleteIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexes == nil {
		writeError(w, http.StatusServiceUnavailable, errCatalogDisabled.Error())
		return
	}
	if err := s.deps.Indexes.Delete(chi.URLParam(r, "name")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
