package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type statusResponse struct {
	State  State    `json:"state"`
	Cache  string   `json:"cache"`
	Origin string   `json:"origin"`
	Assets []string `json:"assets"`
}

// adminRouter answers requests sent to the proxy itself rather than through it
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/entries", s.handleEntries)
	r.Post("/install", s.handleInstall)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:  s.State(),
		Cache:  s.manager.CacheName(),
		Origin: s.config.Assets.Origin,
		Assets: s.manager.Assets(),
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	keys, err := s.manager.Keys()
	if err != nil {
		logrus.Errorf("Failed to list cache entries: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	result, err := s.Reinstall(r.Context())
	if result == nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write JSON response: %v", err)
	}
}
