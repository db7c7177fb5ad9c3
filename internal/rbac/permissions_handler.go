package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicoop/epicoop/internal/platform/httpx"
	"github.com/epicoop/epicoop/internal/shared"
)

// PermissionCatalog reads the permission reference data. Permissions are
// seeded, never created through request flow.
type PermissionCatalog struct {
	pool *pgxpool.Pool
}

// NewPermissionCatalog constructs a PermissionCatalog.
func NewPermissionCatalog(pool *pgxpool.Pool) *PermissionCatalog {
	return &PermissionCatalog{pool: pool}
}

// ListActive returns all active permissions ordered by module and name.
func (c *PermissionCatalog) ListActive(ctx context.Context) ([]Permission, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, name, display_name, module, is_active
		FROM permissions
		WHERE is_active
		ORDER BY module, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Module, &p.IsActive); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// PermissionsHandler serves the permission catalogue for the admin UI.
type PermissionsHandler struct {
	logger  *slog.Logger
	catalog *PermissionCatalog
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, catalog *PermissionCatalog, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, catalog: catalog, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermPermissionsView, Options{JSON: true}))
		r.Get("/", h.listPermissions)
	})
}

type permissionView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "Erreur base de données")
		return
	}
	grouped := make(map[string][]permissionView)
	for _, p := range perms {
		grouped[p.Module] = append(grouped[p.Module], permissionView{ID: p.ID, Name: p.Name, DisplayName: p.DisplayName})
	}
	httpx.OK(w, map[string]any{"permissions": grouped, "total_count": len(perms)})
}
