package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fatgo/events"
	"fatgo/host"
	"fatgo/presenter"
	"fatgo/runner"
	"fatgo/runner/storage"
)

// Deps are the components the HTTP surface reads from or triggers
type Deps struct {
	Store     *storage.Storage // Optional: nil disables the history endpoints
	Commands  *host.Commands
	Workspace runner.WorkspaceResolver // where uploads land and artifacts are served from
	Broker    *events.EventBroker
	Viewer    *presenter.Viewer
	Logger    *zap.Logger
}

// NewRouter builds the HTTP routes
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(requestLogger(log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", GetRuns(d.Store))
		r.Get("/runs/{id}", GetRun(d.Store))
		r.Get("/stats", GetStats(d.Store))
		r.Post("/analyze", PostAnalyze(d.Commands, d.Workspace, log))
		r.Get("/artifacts/log", GetDisassemblyLog(d.Workspace))
		r.Get("/events", SSEHandler(d.Broker))
		r.Get("/panels", GetPanels(d.Viewer))
	})
	r.Get("/viewer/{id}", GetViewer(d.Viewer))
	r.Get("/viewer/{id}/image", GetViewerImage(d.Viewer))

	return r
}

// cors allows the dashboard to be served from another origin
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
