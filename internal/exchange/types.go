package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is the definitive "no such order" answer from the
// exchange; the reconciler treats it as proof the submission never landed.
var ErrOrderNotFound = errors.New("exchange: order not found")

// OrderRequest is one order placement. ClientOrderID carries the execution's
// idempotency key so an exchange with idempotent order creation can
// deduplicate on its side too.
type OrderRequest struct {
	ClientOrderID string
	Asset         string
	Side          string
	Amount        decimal.Decimal
	Price         decimal.Decimal
}

// Order is the exchange's view of a placed order.
type Order struct {
	OrderID       string
	ClientOrderID string
	Asset         string
	Side          string
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Status        string
}

// Client is the consumed exchange capability. Implementations decide the
// HARD/SOFT class of every failure once, at this boundary.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	FindOrderByClientID(ctx context.Context, asset, clientOrderID string) (Order, error)
}
