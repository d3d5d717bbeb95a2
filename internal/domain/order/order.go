package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the fulfilment state of an order.
type Status string

const (
	StatusWaitingPayment Status = "WAITING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCanceled       Status = "CANCELED"
)

// Order is a placed customer order. The owning client never changes after
// creation.
type Order struct {
	ID      int64
	Moment  time.Time
	Status  Status
	Client  Client
	Items   []Item
	Payment *Payment
}

// Client references the user who owns an order.
type Client struct {
	ID   int64
	Name string
}

// Payment records when an order was paid.
type Payment struct {
	ID     int64
	Moment time.Time
}

// Item is a line of an order. Price is the unit price captured at purchase
// time and is never recomputed from the current product price.
type Item struct {
	ProductID int64
	Name      string
	ImgURL    string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns Price × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total returns the exact sum of the item subtotals. An order without items
// totals zero.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Repository defines read operations for orders.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
}
