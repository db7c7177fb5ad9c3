package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/shared"
	"github.com/epicoop/epicoop/internal/view"
)

// Options controls the response shape of the authorization middleware.
type Options struct {
	// JSON forces envelope responses. When false, RequirePermission still
	// answers JSON to requests that ask for it via Accept or Content-Type.
	JSON bool
}

// Denial describes a failed permission check for the audit trail.
type Denial struct {
	UserID     int64
	ActorID    int64
	Permission string
	IPAddress  string
}

// DenialRecorder persists denial events. Implementations must not block the
// response path; failures are theirs to log.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, denial Denial)
}

// Middleware wires the authorization guards for HTTP handlers.
type Middleware struct {
	Service   *Service
	Audit     DenialRecorder
	Templates *view.Engine
	Logger    *slog.Logger
}

// RequirePermission guards a route behind one permission.
func (m Middleware) RequirePermission(name string, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wantJSON := opts.JSON || prefersJSON(r)
			sess := shared.SessionFromContext(r.Context())
			if !m.requireUser(w, r, sess, wantJSON) {
				return
			}
			if m.Service.HasPermission(r.Context(), sess, name) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, sess, wantJSON, name,
				"Permission refusée: "+name+" requise",
				"Vous n'avez pas la permission d'accéder à cette ressource")
		})
	}
}

// RequireAnyPermission guards a route behind at least one of the named
// permissions.
func (m Middleware) RequireAnyPermission(names []string, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if !m.requireUser(w, r, sess, opts.JSON) {
				return
			}
			if !m.requireRBAC(w, r, sess, opts.JSON) {
				return
			}
			if m.Service.HasAnyPermission(r.Context(), sess, names) {
				next.ServeHTTP(w, r)
				return
			}
			joined := strings.Join(names, ", ")
			m.deny(w, r, sess, opts.JSON, joined,
				"Permission refusée: une des permissions requises: "+joined,
				"Vous n'avez pas la permission d'accéder à cette ressource")
		})
	}
}

// RequireAllPermissions guards a route behind every named permission.
func (m Middleware) RequireAllPermissions(names []string, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if !m.requireUser(w, r, sess, opts.JSON) {
				return
			}
			if !m.requireRBAC(w, r, sess, opts.JSON) {
				return
			}
			if m.Service.HasAllPermissions(r.Context(), sess, names) {
				next.ServeHTTP(w, r)
				return
			}
			joined := strings.Join(names, ", ")
			m.deny(w, r, sess, opts.JSON, joined,
				"Permission refusée: toutes les permissions requises: "+joined,
				"Vous n'avez pas toutes les permissions nécessaires")
		})
	}
}

// requireUser terminates the request with 401/redirect when no user is
// authenticated. Returns true when the request may proceed.
func (m Middleware) requireUser(w http.ResponseWriter, r *http.Request, sess *shared.Session, wantJSON bool) bool {
	if _, err := shared.CurrentUserID(sess); err != nil {
		if wantJSON {
			httpx.Error(w, http.StatusUnauthorized, "Non authentifié")
		} else {
			http.Redirect(w, r, "/login", http.StatusFound)
		}
		return false
	}
	return true
}

// requireRBAC terminates the request with 403 when the acting user is not
// enrolled in RBAC.
func (m Middleware) requireRBAC(w http.ResponseWriter, r *http.Request, sess *shared.Session, wantJSON bool) bool {
	if shared.RBACEnabled(sess) {
		return true
	}
	if wantJSON {
		httpx.Error(w, http.StatusForbidden, "RBAC non activé")
	} else {
		m.renderForbidden(w, r, sess, "RBAC non activé pour votre compte. Contactez l'administrateur.")
	}
	return false
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, sess *shared.Session, wantJSON bool, permission, jsonMsg, htmlMsg string) {
	m.recordDenial(r, sess, permission)
	if wantJSON {
		httpx.Error(w, http.StatusForbidden, jsonMsg)
		return
	}
	m.renderForbidden(w, r, sess, htmlMsg)
}

// recordDenial hands the event to the audit recorder. The recorder is
// fire-and-forget; a failure there never blocks the 403.
func (m Middleware) recordDenial(r *http.Request, sess *shared.Session, permission string) {
	if m.Audit == nil {
		return
	}
	userID, err := shared.CurrentUserID(sess)
	if err != nil {
		return
	}
	actorID := userID
	if orig := shared.OriginalUser(sess); orig != nil {
		actorID = orig.UserID
	}
	m.Audit.RecordDenial(r.Context(), Denial{
		UserID:     userID,
		ActorID:    actorID,
		Permission: permission,
		IPAddress:  clientIP(r),
	})
}

func (m Middleware) renderForbidden(w http.ResponseWriter, r *http.Request, sess *shared.Session, message string) {
	username, _ := shared.CurrentUsername(sess)
	role, _ := shared.CurrentRole(sess)
	w.WriteHeader(http.StatusForbidden)
	if m.Templates == nil {
		_, _ = w.Write([]byte(message))
		return
	}
	data := view.TemplateData{
		Title: "Accès refusé",
		Data: map[string]any{
			"Message": message,
			"User":    username,
			"Role":    role,
		},
	}
	if err := m.Templates.Render(w, "pages/403.html", data); err != nil && m.Logger != nil {
		m.Logger.Error("render 403 page", slog.Any("error", err))
	}
}

func prefersJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
