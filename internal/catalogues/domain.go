package catalogues

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the catalogue is absent or out of scope.
	ErrNotFound = errors.New("catalogue non trouvé")
	// ErrArchived rejects writes to an archived catalogue.
	ErrArchived = errors.New("catalogue archivé")
)

// Catalogue is a seasonal product listing owned by one organization.
type Catalogue struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	Season         string    `json:"season,omitempty"`
	IsArchived     bool      `json:"is_archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Product is one line of a catalogue. Prices are stored in cents.
type Product struct {
	ID          int64     `json:"id"`
	CatalogueID int64     `json:"catalogue_id"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	PriceCents  int64     `json:"price_cents"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
}
