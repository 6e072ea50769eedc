package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/noorlatif/portfolio-assistant/pkg/catalog"
)

// compressMiddleware gzips responses for clients that accept it. The
// assistant stream is left out so chunks are not held back by the encoder.
func compressMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

type projectListResponse struct {
	Projects []catalog.Project `json:"projects"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, projectListResponse{Projects: s.catalog.List()})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.catalog.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, p)
}
