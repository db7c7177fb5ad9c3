package settings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

type updateMaintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message" validate:"max=255"`
}

// Handler exposes the maintenance settings to administrators.
type Handler struct {
	service  *Service
	rbac     *rbac.Middleware
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service *Service, mw *rbac.Middleware, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		rbac:     mw,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/maintenance", func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermOrganizationsViewAll, rbac.Options{JSON: true}))
		r.Get("/", h.getMaintenance)
		r.Put("/", h.updateMaintenance)
	})
}

func (h *Handler) getMaintenance(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, h.service.Maintenance(r.Context()))
}

func (h *Handler) updateMaintenance(w http.ResponseWriter, r *http.Request) {
	var req updateMaintenanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Le message ne peut pas dépasser 255 caractères")
		return
	}

	if err := h.service.SetMaintenance(r.Context(), req.Enabled, req.Message); err != nil {
		h.logger.Error("mise à jour du mode maintenance échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
		return
	}

	h.logger.Info("mode maintenance mis à jour", "enabled", req.Enabled)
	httpx.OK(w, h.service.Maintenance(r.Context()))
}
