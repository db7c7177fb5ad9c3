package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/settings"
	"github.com/epicoop/epicoop/internal/shared"
	"github.com/epicoop/epicoop/internal/view"
)

// MaintenanceReader resolves the current maintenance state. The settings
// service is the production implementation; it already treats read failures
// as disabled, which keeps the gate fail-open.
type MaintenanceReader interface {
	Maintenance(ctx context.Context) settings.MaintenanceSettings
}

// SuperAdminChecker identifies operators allowed through the gate.
type SuperAdminChecker interface {
	IsSuperAdmin(ctx context.Context, sess *shared.Session) bool
}

// maintenanceSkipPrefixes lists paths that stay reachable during
// maintenance: the gate page itself, authentication, assets and probes.
var maintenanceSkipPrefixes = []string{
	"/maintenance",
	"/login",
	"/logout",
	"/favicon.ico",
	"/static/",
	"/healthz",
	"/metrics",
}

// MaintenanceGate blocks requests with a 503 while maintenance is enabled.
// Operators with the SuperAdmin bridge or the cross-tenant permission pass
// through so they can turn it off again.
type MaintenanceGate struct {
	Settings  MaintenanceReader
	Admins    SuperAdminChecker
	Templates *view.Engine
	Logger    *slog.Logger
}

func (g *MaintenanceGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range maintenanceSkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		state := g.Settings.Maintenance(r.Context())
		if !state.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		sess := shared.SessionFromContext(r.Context())
		if g.Admins != nil && g.Admins.IsSuperAdmin(r.Context(), sess) {
			next.ServeHTTP(w, r)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/json") ||
			strings.Contains(r.Header.Get("Content-Type"), "application/json") {
			httpx.Error(w, http.StatusServiceUnavailable, state.Message)
			return
		}
		g.renderMaintenance(w, state.Message)
	})
}

func (g *MaintenanceGate) renderMaintenance(w http.ResponseWriter, message string) {
	w.WriteHeader(http.StatusServiceUnavailable)
	if g.Templates == nil {
		_, _ = w.Write([]byte(message))
		return
	}
	data := view.TemplateData{
		Title: "Maintenance",
		Data:  map[string]any{"Message": message},
	}
	if err := g.Templates.Render(w, "pages/maintenance.html", data); err != nil && g.Logger != nil {
		g.Logger.Error("render maintenance page", slog.Any("error", err))
	}
}
