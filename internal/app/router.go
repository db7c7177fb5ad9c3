package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/auth"
	"github.com/epicoop/epicoop/internal/catalogues"
	"github.com/epicoop/epicoop/internal/observability"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/roles"
	"github.com/epicoop/epicoop/internal/settings"
	"github.com/epicoop/epicoop/internal/shared"
	"github.com/epicoop/epicoop/internal/users"
	"github.com/epicoop/epicoop/internal/view"
	"github.com/epicoop/epicoop/jobs"
	"github.com/epicoop/epicoop/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
	Gate           *MaintenanceGate
	RBACMiddleware rbac.Middleware

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	CataloguesHandler  *catalogues.Handler
	SettingsHandler    *settings.Handler
	AuditHandler       *audit.Handler
	JobsHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with Epicoop defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	// The gate sits after the session middleware so operator bypass can read
	// the identity.
	if params.Gate != nil {
		r.Use(params.Gate.Handler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		username, err := shared.CurrentUsername(sess)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
		data := view.TemplateData{
			Title:     "Epicoop",
			CSRFToken: csrfToken,
			Flash:     sess.PopFlash(),
			Data: map[string]any{
				"Username":      username,
				"Impersonating": shared.IsImpersonating(sess),
			},
		}
		if err := params.Templates.Render(w, "pages/home.html", data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	params.AuthHandler.MountPublicRoutes(r)

	r.Route("/api/admin", func(r chi.Router) {
		params.UsersHandler.MountRoutes(r)
		params.RolesHandler.MountRoutes(r)
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		params.CataloguesHandler.MountRoutes(r)
		params.SettingsHandler.MountRoutes(r)
		params.AuditHandler.MountRoutes(r)
		params.AuthHandler.MountAdminRoutes(r)

		if params.JobsHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequirePermission(shared.PermOrganizationsViewAll, rbac.Options{JSON: true}))
				params.JobsHandler.MountRoutes(r)
			})
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
