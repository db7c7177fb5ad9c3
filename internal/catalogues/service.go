package catalogues

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/epicoop/epicoop/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	List(ctx context.Context, scope shared.Scope) ([]Catalogue, error)
	FindByID(ctx context.Context, id int64, scope shared.Scope) (Catalogue, error)
	Create(ctx context.Context, orgID int64, name, season string) (Catalogue, error)
	SetArchived(ctx context.Context, id int64, archived bool) error
	ProductsOf(ctx context.Context, catalogueID int64) ([]Product, error)
	AddProduct(ctx context.Context, catalogueID int64, name, unit string, priceCents int64) (Product, error)
}

// Service implements catalogue management for one tenant. Product listings
// sort with French collation so "Échalote" files under E, not after Z.
type Service struct {
	store    Store
	scopes   *shared.ScopeResolver
	collator *collate.Collator
	logger   *slog.Logger
}

func NewService(store Store, scopes *shared.ScopeResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		scopes:   scopes,
		collator: collate.New(language.French, collate.IgnoreCase),
		logger:   logger,
	}
}

// ListCatalogues returns the catalogues visible to the session's tenant.
func (s *Service) ListCatalogues(ctx context.Context, sess *shared.Session) ([]Catalogue, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, scope)
}

// GetCatalogue returns one catalogue in scope with its products sorted by
// French-collated name.
func (s *Service) GetCatalogue(ctx context.Context, sess *shared.Session, id int64) (Catalogue, []Product, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return Catalogue{}, nil, err
	}
	catalogue, err := s.store.FindByID(ctx, id, scope)
	if err != nil {
		return Catalogue{}, nil, err
	}
	products, err := s.store.ProductsOf(ctx, id)
	if err != nil {
		return Catalogue{}, nil, err
	}
	s.sortProducts(products)
	return catalogue, products, nil
}

// CreateCatalogue creates a catalogue owned by the session's organization.
// Cross-tenant operators still create within their own organization.
func (s *Service) CreateCatalogue(ctx context.Context, sess *shared.Session, name, season string) (Catalogue, error) {
	orgID, err := shared.CurrentOrgID(sess)
	if err != nil {
		return Catalogue{}, err
	}
	catalogue, err := s.store.Create(ctx, orgID, name, season)
	if err != nil {
		return Catalogue{}, err
	}
	s.logger.Info("catalogue créé", "catalogue_id", catalogue.ID, "organization_id", orgID)
	return catalogue, nil
}

// SetArchived archives or restores a catalogue in scope.
func (s *Service) SetArchived(ctx context.Context, sess *shared.Session, id int64, archived bool) error {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return err
	}
	if _, err := s.store.FindByID(ctx, id, scope); err != nil {
		return err
	}
	if err := s.store.SetArchived(ctx, id, archived); err != nil {
		return err
	}
	s.logger.Info("catalogue archivé", "catalogue_id", id, "archived", archived)
	return nil
}

// AddProduct appends a product to an active catalogue in scope.
func (s *Service) AddProduct(ctx context.Context, sess *shared.Session, catalogueID int64, name, unit string, priceCents int64) (Product, error) {
	scope, err := s.scopes.ScopeFor(ctx, sess)
	if err != nil {
		return Product{}, err
	}
	catalogue, err := s.store.FindByID(ctx, catalogueID, scope)
	if err != nil {
		return Product{}, err
	}
	if catalogue.IsArchived {
		return Product{}, ErrArchived
	}
	return s.store.AddProduct(ctx, catalogueID, name, unit, priceCents)
}

func (s *Service) sortProducts(products []Product) {
	sort.SliceStable(products, func(i, j int) bool {
		return s.collator.CompareString(products[i].Name, products[j].Name) < 0
	})
}
