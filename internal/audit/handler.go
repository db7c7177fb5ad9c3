package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

// Handler exposes the audit log to administrators.
type Handler struct {
	recorder *Recorder
	rbac     *rbac.Middleware
	logger   *slog.Logger
}

func NewHandler(recorder *Recorder, mw *rbac.Middleware, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, rbac: mw, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermAuditView, rbac.Options{JSON: true}))
		r.Get("/", h.listEntries)
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	eventType := r.URL.Query().Get("event_type")

	entries, err := h.recorder.List(r.Context(), eventType, limit, offset)
	if err != nil {
		h.logger.Error("lecture du journal d'audit échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
		return
	}

	httpx.OK(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
