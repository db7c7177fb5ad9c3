package catalogues

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

type createCatalogueRequest struct {
	Name   string `json:"name" validate:"required,min=2,max=150"`
	Season string `json:"season" validate:"max=50"`
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

type addProductRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=150"`
	Unit       string `json:"unit" validate:"required,max=20"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

// Handler exposes catalogue management over JSON.
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
	r.Route("/catalogues", func(r chi.Router) {
		view := h.rbac.RequirePermission(shared.PermCatalogues, rbac.Options{JSON: true})
		manage := h.rbac.RequirePermission(shared.PermCataloguesManage, rbac.Options{JSON: true})

		r.With(view).Get("/", h.listCatalogues)
		r.With(manage).Post("/", h.createCatalogue)
		r.Route("/{catalogueID}", func(r chi.Router) {
			r.With(view).Get("/", h.getCatalogue)
			r.With(manage).Put("/archive", h.setArchived)
			r.With(manage).Post("/products", h.addProduct)
		})
	})
}

func (h *Handler) listCatalogues(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	list, err := h.service.ListCatalogues(r.Context(), sess)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"catalogues": list, "count": len(list)})
}

func (h *Handler) getCatalogue(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	catalogue, products, err := h.service.GetCatalogue(r.Context(), sess, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"catalogue": catalogue, "products": products})
}

func (h *Handler) createCatalogue(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())

	var req createCatalogueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Le nom du catalogue est requis")
		return
	}

	catalogue, err := h.service.CreateCatalogue(r.Context(), sess, req.Name, req.Season)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: catalogue})
}

func (h *Handler) setArchived(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req archiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}

	if err := h.service.SetArchived(r.Context(), sess, id, req.Archived); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"catalogue_id": id, "archived": req.Archived})
}

func (h *Handler) addProduct(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req addProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Nom et unité du produit sont requis")
		return
	}

	product, err := h.service.AddProduct(r.Context(), sess, id, req.Name, req.Unit, req.PriceCents)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: product})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "catalogueID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "Identifiant invalide")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "Catalogue non trouvé")
	case errors.Is(err, ErrArchived):
		httpx.Error(w, http.StatusConflict, "Ce catalogue est archivé")
	case errors.Is(err, shared.ErrNotAuthenticated):
		httpx.Error(w, http.StatusUnauthorized, "Non authentifié")
	default:
		h.logger.Error("opération sur les catalogues échouée", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "Erreur interne")
	}
}
