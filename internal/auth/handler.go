package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/shared"
	"github.com/epicoop/epicoop/internal/view"
)

// Handler serves the login pages and the impersonation API.
type Handler struct {
	service   *Service
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	templates *view.Engine
	rbac      *rbac.Middleware
	logger    *slog.Logger
}

func NewHandler(service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, templates *view.Engine, mw *rbac.Middleware, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		sessions:  sessions,
		csrf:      csrf,
		templates: templates,
		rbac:      mw,
		logger:    logger,
	}
}

// MountPublicRoutes attaches the login and logout endpoints.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

// MountAdminRoutes attaches the impersonation endpoints under the admin API.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Route("/impersonation", func(r chi.Router) {
		r.With(h.rbac.RequirePermission(shared.PermOrganizationsViewAll, rbac.Options{JSON: true})).
			Post("/{userID}/start", h.startImpersonation)
		r.Post("/stop", h.stopImpersonation)
	})
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if _, err := shared.CurrentUserID(sess); err == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.renderLogin(w, r, sess, "")
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, sess, "Requête invalide")
		return
	}
	if err := h.csrf.VerifyToken(r.Context(), sess, r.PostFormValue(shared.CSRFFormField)); err != nil {
		h.renderLogin(w, r, sess, "Session expirée, veuillez réessayer")
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	user, err := h.service.Authenticate(r.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.renderLogin(w, r, sess, "Identifiants invalides")
		case errors.Is(err, ErrAccountDisabled):
			h.renderLogin(w, r, sess, "Ce compte est désactivé")
		default:
			h.logger.Error("authentification échouée", "error", err)
			h.renderLogin(w, r, sess, "Erreur interne, veuillez réessayer")
		}
		return
	}

	// New session id at the privilege boundary.
	sess.Regenerate()
	sess.SetIdentity(shared.DirectIdentity(user))
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Bienvenue " + user.Username})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := r.ParseForm(); err == nil {
		if err := h.csrf.VerifyToken(r.Context(), sess, r.PostFormValue(shared.CSRFFormField)); err != nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}
	h.sessions.Destroy(sess)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) startImpersonation(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || targetID <= 0 {
		httpx.Error(w, http.StatusBadRequest, "Identifiant invalide")
		return
	}

	identity, err := h.service.Impersonate(r.Context(), sess, targetID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sess.SetIdentity(identity)
	httpx.OK(w, map[string]any{
		"acting_as": identity.ActingAs.Username,
		"user_id":   identity.ActingAs.UserID,
	})
}

func (h *Handler) stopImpersonation(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	identity, err := h.service.StopImpersonation(r.Context(), sess)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sess.SetIdentity(identity)
	httpx.OK(w, map[string]any{
		"acting_as": identity.ActingAs.Username,
		"user_id":   identity.ActingAs.UserID,
	})
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, sess *shared.Session, errMsg string) {
	token, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("génération du jeton CSRF échouée", "error", err)
	}
	data := view.TemplateData{
		Title:       "Connexion",
		CSRFToken:   token,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"Error": errMsg},
	}
	if errMsg != "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	if err := h.templates.Render(w, "pages/login.html", data); err != nil {
		h.logger.Error("rendu de la page de connexion échoué", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Error(w, http.StatusNotFound, "Utilisateur non trouvé")
	case errors.Is(err, ErrAccountDisabled):
		httpx.Error(w, http.StatusConflict, "Ce compte est désactivé")
	case errors.Is(err, ErrSelfImpersonation):
		httpx.Error(w, http.StatusConflict, "Impersonation impossible pour cet utilisateur")
	case errors.Is(err, ErrNotImpersonating):
		httpx.Error(w, http.StatusConflict, "Aucune impersonation en cours")
	case errors.Is(err, shared.ErrNotAuthenticated):
		httpx.Error(w, http.StatusUnauthorized, "Non authentifié")
	default:
		h.logger.Error("impersonation échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
	}
}
