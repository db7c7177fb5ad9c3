package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	DisplayName string `json:"display_name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=500"`
	System      bool   `json:"system"`
}

type updateRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	DisplayName string `json:"display_name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=500"`
	IsActive    bool   `json:"is_active"`
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

// Handler exposes role administration over JSON.
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
	r.Route("/roles", func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermRoles, rbac.Options{JSON: true}))

		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Route("/{roleID}", func(r chi.Router) {
			r.Get("/", h.getRole)
			r.Put("/", h.updateRole)
			r.Delete("/", h.deleteRole)
			r.Put("/permissions", h.setPermissions)
			r.Get("/users", h.listRoleUsers)
		})
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	list, err := h.service.ListRoles(r.Context(), sess)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"roles": list, "count": len(list)})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	roleID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	role, perms, err := h.service.GetRole(r.Context(), sess, roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"role": role, "permissions": perms})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())

	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Nom et nom d'affichage sont requis")
		return
	}

	role, err := h.service.CreateRole(r.Context(), sess, req.Name, req.DisplayName, req.Description, req.System)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: role})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	roleID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Nom et nom d'affichage sont requis")
		return
	}

	role, err := h.service.UpdateRole(r.Context(), sess, roleID, req.Name, req.DisplayName, req.Description, req.IsActive)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	roleID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), sess, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"role_id": roleID})
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	roleID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req setPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "permission_ids est requis")
		return
	}

	if err := h.service.SetRolePermissions(r.Context(), sess, roleID, req.PermissionIDs); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"role_id": roleID, "count": len(req.PermissionIDs)})
}

func (h *Handler) listRoleUsers(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	roleID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userIDs, err := h.service.RoleUsers(r.Context(), sess, roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"user_ids": userIDs, "count": len(userIDs)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "Identifiant invalide")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "Rôle non trouvé")
	case errors.Is(err, ErrDuplicateName):
		httpx.Error(w, http.StatusConflict, "Un rôle porte déjà ce nom")
	case errors.Is(err, ErrSystemRole):
		httpx.Error(w, http.StatusForbidden, "Les rôles système ne peuvent pas être modifiés ainsi")
	case errors.Is(err, ErrRoleInUse):
		httpx.Error(w, http.StatusConflict, "Ce rôle est encore assigné à des utilisateurs")
	case errors.Is(err, shared.ErrNotAuthenticated):
		httpx.Error(w, http.StatusUnauthorized, "Non authentifié")
	default:
		h.logger.Error("opération sur les rôles échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
	}
}
