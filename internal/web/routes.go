package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepic/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	imagesHandler := handlers.NewImagesHandler(s.store)
	personsHandler := handlers.NewPersonsHandler(s.store, s.config.Paths.FaceThumbDir())
	foldersHandler := handlers.NewFoldersHandler(s.store)
	statsHandler := handlers.NewStatsHandler(s.store)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/images", imagesHandler.List)
		r.Get("/images/{id}", imagesHandler.Get)

		r.Get("/persons", personsHandler.List)
		r.Get("/persons/{id}", personsHandler.Get)
		r.Put("/persons/{id}", personsHandler.Rename)
		r.Post("/persons/merge", personsHandler.Merge)

		r.Get("/folders", foldersHandler.List)
		r.Get("/folders/{id}/images", foldersHandler.Images)

		r.Get("/stats", statsHandler.Get)
	})

	// Thumbnails are served straight off the local thumbnail tree. The
	// same relative paths are stored on image and face documents.
	thumbs := http.StripPrefix("/thumbnails/",
		http.FileServer(http.Dir(s.config.Paths.ThumbnailDir)))
	s.router.Get("/thumbnails/*", func(w http.ResponseWriter, r *http.Request) {
		thumbs.ServeHTTP(w, r)
	})
}
