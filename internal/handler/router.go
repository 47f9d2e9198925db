package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibz-labs/vibz/backend/internal/handler/microphone"
	"github.com/vibz-labs/vibz/backend/internal/handler/studio"
	middlewarePkg "github.com/vibz-labs/vibz/backend/internal/middleware"
	generationService "github.com/vibz-labs/vibz/backend/internal/service/generation"
	studioService "github.com/vibz-labs/vibz/backend/internal/service/studio"
	"github.com/vibz-labs/vibz/backend/pkg/utils"
)

// GenerationBackend is what the HTTP layer needs from the generation service.
type GenerationBackend interface {
	studio.ResourceFetcher
	Health(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	StaticDir       string
	MaxUploadBytes  int64
	MicGrantTimeout time.Duration
}

// NewRouter wires HTTP routes to core services.
func NewRouter(studioSvc *studioService.Service, backend GenerationBackend, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var fetcher studio.ResourceFetcher
	if backend != nil {
		fetcher = backend
	}
	studioHandler := studio.New(studioSvc, fetcher, opts.MaxUploadBytes)
	microphoneHandler := microphone.New(studioSvc, opts.MicGrantTimeout)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			handleHealth(w, r, studioSvc, backend)
		})

		studioHandler.RegisterRoutes(api)
		microphoneHandler.RegisterRoutes(api)
	})

	if opts.StaticDir != "" {
		r.Handle("/*", spaHandler(opts.StaticDir))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request, studioSvc *studioService.Service, backend GenerationBackend) {
	generation := "unconfigured"
	if backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := backend.Health(ctx); err != nil {
			generation = "unavailable"
		} else {
			generation = "ok"
		}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"sessions":   studioSvc.Count(),
		"generation": generation,
	})
}

// spaHandler serves the built studio page, falling back to index.html for
// client-side routes.
func spaHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean)))
		if err != nil || info.IsDir() && clean != "/" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

var _ GenerationBackend = (*generationService.Client)(nil)
