/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. identify:   Resolves X-Reader-ID to the calling reader (under /api)

ROUTE GROUPS:
  /api/authors/*        Author catalog
  /api/books/*          Book catalog and counters
  /api/readers/*        Reader directory
  /api/lending/*        Ledger operations
  /api/admin/*          Reminder scan trigger

AUTHORIZATION:
  Every /api request names its caller. Reads are open to any reader (the
  ledger narrows what non-librarians see); writes need a librarian.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// origins list falls back to the local development origins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ReaderHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.identify)

		// Author routes
		r.Route("/authors", func(r chi.Router) {
			r.Get("/", h.ListAuthors)
			r.Get("/{id}", h.GetAuthor)
			r.With(requireLibrarian).Post("/", h.CreateAuthor)
			r.With(requireLibrarian).Delete("/{id}", h.DeleteAuthor)
		})

		// Book routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Get("/{id}", h.GetBook)
			r.With(requireLibrarian).Post("/", h.CreateBook)
			r.With(requireLibrarian).Patch("/{id}", h.UpdateBook)
			r.With(requireLibrarian).Delete("/{id}", h.DeleteBook)
		})

		// Reader routes
		r.Route("/readers", func(r chi.Router) {
			r.Get("/{id}", h.GetReader)
			r.Group(func(r chi.Router) {
				r.Use(requireLibrarian)
				r.Get("/", h.ListReaders)
				r.Post("/", h.CreateReader)
				r.Delete("/{id}", h.DeleteReader)
			})
		})

		// Lending routes
		r.Route("/lending", func(r chi.Router) {
			r.Get("/", h.ListOperations)
			r.Get("/{id}", h.GetOperation)
			r.Group(func(r chi.Router) {
				r.Use(requireLibrarian)
				r.Post("/create", h.SubmitOperation)
				r.Patch("/update/{id}", h.AmendWriteOff)
				r.Delete("/delete/{id}", h.DeleteOperation)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireLibrarian)
			r.Post("/reminders", h.TriggerReminders)
		})
	})

	return r
}
