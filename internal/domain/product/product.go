package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Storage signals. The Service translates them into apperr kinds; they never
// reach the transport.
var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrIntegrityViolation is returned when a write is rejected because another
	// record still references the product.
	ErrIntegrityViolation = errors.New("product is referenced by other records")
	// ErrUnknownCategory is returned when a write refers to a category id that
	// does not exist.
	ErrUnknownCategory = errors.New("unknown category")
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Description string
	ImgURL      string
	Price       decimal.Decimal
	Active      bool
	Categories  []Category
}

// CategoryIDs returns the ids of the product categories in order.
func (p *Product) CategoryIDs() []int64 {
	ids := make([]int64, len(p.Categories))
	for i, c := range p.Categories {
		ids[i] = c.ID
	}
	return ids
}

// Category groups products. It is referenced by products and never owned.
type Category struct {
	ID   int64
	Name string
}

// ListParams filters and paginates a product listing. Page is zero-based.
type ListParams struct {
	Name string
	Page int
	Size int
}

// Page is one slice of a product listing.
type Page struct {
	Content       []Product
	TotalElements int64
	Number        int
	Size          int
}

// TotalPages returns the number of pages needed for TotalElements.
func (p Page) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

// Repository defines persistence operations for the product catalog.
//
// Create and Update must store the product and its category links atomically
// and return ErrUnknownCategory when a category id does not exist. On success
// they assign the id and fill in category names. Delete must remove the
// product as a single atomic unit: ErrIntegrityViolation when order items
// still reference it, ErrNotFound when no row was removed.
type Repository interface {
	List(ctx context.Context, params ListParams) (Page, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]Category, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// EventType names a catalog change.
type EventType string

const (
	EventCreated EventType = "product.created"
	EventUpdated EventType = "product.updated"
	EventDeleted EventType = "product.deleted"
)

// Event describes a committed catalog change.
type Event struct {
	Type      EventType
	ProductID int64
	At        time.Time
}

// EventPublisher announces committed catalog changes to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
