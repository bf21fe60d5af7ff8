package masterdata

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Catalog selects one of the name-keyed master tables.
type Catalog string

const (
	// Materials is the cloth catalogue.
	Materials Catalog = "materials"
	// Variants is the color catalogue.
	Variants Catalog = "variants"
)

func (c Catalog) entity() string {
	return strings.TrimSuffix(string(c), "s")
}

// Record is a material or a variant.
type Record struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Material is a cloth.
type Material = Record

// Variant is a color.
type Variant = Record

// Party is a customer or supplier contact.
type Party struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	AddressLine1 string    `json:"address_line_1"`
	AddressLine2 string    `json:"address_line_2"`
	City         string    `json:"city"`
	Pincode      string    `json:"pincode"`
	Phone        string    `json:"phone"`
	TaxID        string    `json:"tax_id"`
	Active       bool      `json:"active"`
	OwnerID      *int64    `json:"owner_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecordInput creates or renames a material or variant.
type RecordInput struct {
	Name    string `validate:"required,max=120"`
	OwnerID int64  `validate:"omitempty,gt=0"`
}

// PartyInput creates or updates a party.
type PartyInput struct {
	Name         string `validate:"required,max=160"`
	AddressLine1 string `validate:"max=200"`
	AddressLine2 string `validate:"max=200"`
	City         string `validate:"max=80"`
	Pincode      string `validate:"omitempty,len=6,numeric"`
	Phone        string `validate:"omitempty,max=20"`
	TaxID        string `validate:"omitempty,len=15,alphanum"`
	OwnerID      int64  `validate:"omitempty,gt=0"`
}

// ListFilters narrows master listings.
type ListFilters struct {
	Search string
	Active *bool
	Page   shared.PageRequest
}

// NameKey is the case-folded uniqueness key stored alongside a name. A Caser keeps state, so
// each call builds its own.
func NameKey(name string) string {
	return cases.Fold().String(CleanName(name))
}

// CleanName trims and collapses inner whitespace.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
