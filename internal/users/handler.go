package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
)

type assignRoleRequest struct {
	RoleID    int64      `json:"role_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason" validate:"max=255"`
}

type setRBACRequest struct {
	Enabled bool `json:"enabled"`
}

// Handler exposes user administration over JSON.
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
	r.Route("/users", func(r chi.Router) {
		r.With(h.rbac.RequirePermission(shared.PermUsersView, rbac.Options{JSON: true})).
			Get("/", h.listUsers)

		r.Route("/{userID}", func(r chi.Router) {
			view := h.rbac.RequirePermission(shared.PermUsersView, rbac.Options{JSON: true})
			manage := h.rbac.RequirePermission(shared.PermUsers, rbac.Options{JSON: true})

			r.With(view).Get("/", h.getUser)
			r.With(view).Get("/roles", h.listUserRoles)
			r.With(view).Get("/permissions", h.effectivePermissions)
			r.With(manage).Post("/roles", h.assignRole)
			r.With(manage).Delete("/roles/{roleID}", h.removeRole)
			r.With(manage).Put("/rbac", h.setRBACEnabled)
		})
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	list, err := h.service.ListUsers(r.Context(), sess)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"users": list, "count": len(list)})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), sess, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, user)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.UserRoles(r.Context(), sess, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"roles": roles, "count": len(roles)})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "role_id est requis")
		return
	}

	if err := h.service.AssignRole(r.Context(), sess, userID, req.RoleID, req.ExpiresAt, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"user_id": userID, "role_id": req.RoleID})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}

	if err := h.service.RemoveRole(r.Context(), sess, userID, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"user_id": userID, "role_id": roleID})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	view, err := h.service.EffectivePermissions(r.Context(), sess, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, view)
}

func (h *Handler) setRBACEnabled(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	var req setRBACRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}

	if err := h.service.SetRBACEnabled(r.Context(), sess, userID, req.Enabled); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"user_id": userID, "rbac_enabled": req.Enabled})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "Identifiant invalide")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "Utilisateur non trouvé")
	case errors.Is(err, ErrForeignOrganization):
		httpx.Error(w, http.StatusForbidden, "Ce rôle appartient à une autre organisation")
	case errors.Is(err, ErrAlreadyAssigned):
		httpx.Error(w, http.StatusConflict, "Ce rôle est déjà assigné à cet utilisateur")
	case errors.Is(err, ErrLastRole):
		httpx.Error(w, http.StatusConflict, "Impossible de retirer le dernier rôle d'un utilisateur. Assignez un autre rôle d'abord.")
	case errors.Is(err, ErrExpiryInPast):
		httpx.Error(w, http.StatusBadRequest, "La date d'expiration doit être dans le futur")
	case errors.Is(err, shared.ErrNotAuthenticated):
		httpx.Error(w, http.StatusUnauthorized, "Non authentifié")
	default:
		h.logger.Error("opération utilisateur échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
	}
}
