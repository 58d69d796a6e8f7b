package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/framegate/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Route("/tv", func(r chi.Router) {
			// Uploads are the only large bodies.
			r.With(bodySizeLimit(s.maxUploadBytes())).Post("/artwork", s.handleUploadArtwork)

			r.Group(func(r chi.Router) {
				r.Use(bodySizeLimit(maxRequestBodySize))

				r.Get("/status", s.handleStatus)
				r.Get("/discover", s.handleDiscover)

				r.Get("/selection", s.handleGetSelection)
				r.Put("/selection", s.handleConfigure)

				r.Get("/artwork", s.handleListArtwork)
				r.Get("/artwork/current", s.handleCurrentArtwork)
				r.Route("/artwork/{id}", func(r chi.Router) {
					r.Delete("/", s.handleDeleteArtwork)
					r.Put("/select", s.handleSelectArtwork)
					r.Get("/thumbnail", s.handleThumbnail)
				})

				r.Get("/mattes", s.handleMattes)

				if s.thumbnails != nil {
					r.Get("/thumbnails", s.handleThumbnailStats)
				}
				r.Post("/thumbnails/cleanup", s.handleCleanupThumbnails)
				r.Delete("/thumbnails", s.handleClearThumbnails)
			})
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
		})
	})

	static := s.static
	if static == nil {
		static = webui.Handler(s.cfg.StaticDir)
	}
	r.Handle("/*", static)

	return r
}

// wsPath is the WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" || s.wsCfg.Path[0] != '/' {
		return "/ws"
	}
	return s.wsCfg.Path
}

// maxUploadBytes is the upload body limit. The multipart envelope gets a
// little headroom over the image itself.
func (s *Server) maxUploadBytes() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = 50
	}
	return int64(mb)<<20 + maxRequestBodySize
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
