package catalogues

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/epicoop/epicoop/internal/shared"
)

type fakeStore struct {
	catalogues map[int64]Catalogue
	products   map[int64][]Product
	added      []Product
}

func (f *fakeStore) List(ctx context.Context, scope shared.Scope) ([]Catalogue, error) {
	var out []Catalogue
	for _, c := range f.catalogues {
		if scope.Allows(c.OrganizationID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByID(ctx context.Context, id int64, scope shared.Scope) (Catalogue, error) {
	c, ok := f.catalogues[id]
	if !ok || !scope.Allows(c.OrganizationID) {
		return Catalogue{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) Create(ctx context.Context, orgID int64, name, season string) (Catalogue, error) {
	return Catalogue{ID: 50, OrganizationID: orgID, Name: name, Season: season}, nil
}

func (f *fakeStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	c := f.catalogues[id]
	c.IsArchived = archived
	f.catalogues[id] = c
	return nil
}

func (f *fakeStore) ProductsOf(ctx context.Context, catalogueID int64) ([]Product, error) {
	return f.products[catalogueID], nil
}

func (f *fakeStore) AddProduct(ctx context.Context, catalogueID int64, name, unit string, priceCents int64) (Product, error) {
	p := Product{ID: int64(len(f.added) + 1), CatalogueID: catalogueID, Name: name, Unit: unit, PriceCents: priceCents, IsAvailable: true}
	f.added = append(f.added, p)
	return p, nil
}

type denyChecker struct{}

func (denyChecker) HasPermission(ctx context.Context, sess *shared.Session, name string) bool {
	return false
}

func memberSession(orgID int64) *shared.Session {
	sess := &shared.Session{}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{
		UserID: 3, OrganizationID: orgID, Username: "marie", Role: "Member", RBACEnabled: true,
	}))
	return sess
}

func TestProductsSortedWithFrenchCollation(t *testing.T) {
	store := &fakeStore{
		catalogues: map[int64]Catalogue{1: {ID: 1, OrganizationID: 2, Name: "Automne"}},
		products: map[int64][]Product{1: {
			{Name: "Pomme"},
			{Name: "Échalote"},
			{Name: "carotte"},
			{Name: "Œufs"},
		}},
	}
	svc := NewService(store, shared.NewScopeResolver(denyChecker{}), slog.Default())

	_, products, err := svc.GetCatalogue(context.Background(), memberSession(2), 1)
	if err != nil {
		t.Fatalf("GetCatalogue: %v", err)
	}

	var names []string
	for _, p := range products {
		names = append(names, p.Name)
	}
	want := []string{"carotte", "Échalote", "Œufs", "Pomme"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

func TestAddProductRejectsArchivedCatalogue(t *testing.T) {
	store := &fakeStore{
		catalogues: map[int64]Catalogue{1: {ID: 1, OrganizationID: 2, Name: "Hiver", IsArchived: true}},
	}
	svc := NewService(store, shared.NewScopeResolver(denyChecker{}), slog.Default())

	if _, err := svc.AddProduct(context.Background(), memberSession(2), 1, "Poireau", "botte", 250); !errors.Is(err, ErrArchived) {
		t.Fatalf("expected ErrArchived, got %v", err)
	}
	if len(store.added) != 0 {
		t.Fatalf("expected no product added, got %v", store.added)
	}
}

func TestForeignCatalogueHidden(t *testing.T) {
	store := &fakeStore{
		catalogues: map[int64]Catalogue{1: {ID: 1, OrganizationID: 9, Name: "Printemps"}},
	}
	svc := NewService(store, shared.NewScopeResolver(denyChecker{}), slog.Default())

	if _, _, err := svc.GetCatalogue(context.Background(), memberSession(2), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign catalogue hidden, got %v", err)
	}
	if err := svc.SetArchived(context.Background(), memberSession(2), 1, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected archive of foreign catalogue rejected, got %v", err)
	}
}

func TestCreateCatalogueOwnedByCallerOrganization(t *testing.T) {
	store := &fakeStore{catalogues: map[int64]Catalogue{}}
	svc := NewService(store, shared.NewScopeResolver(denyChecker{}), slog.Default())

	catalogue, err := svc.CreateCatalogue(context.Background(), memberSession(2), "Été", "été")
	if err != nil {
		t.Fatalf("CreateCatalogue: %v", err)
	}
	if catalogue.OrganizationID != 2 {
		t.Fatalf("expected catalogue owned by org 2, got %+v", catalogue)
	}
}
