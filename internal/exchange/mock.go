package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockClient is an in-memory venue for development and tests. It deduplicates
// on client order id the way a real exchange with idempotent order creation
// would, so a replayed request returns the original order.
type MockClient struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMockClient() *MockClient {
	return &MockClient{orders: make(map[string]Order)}
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, Soft("context done", err)
	}
	if req.ClientOrderID == "" {
		return Order{}, Hard(-1102, "client order id required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.orders[req.ClientOrderID]; ok {
		return existing, nil
	}
	order := Order{
		OrderID:       fmt.Sprintf("mock-%s", uuid.NewString()[:8]),
		ClientOrderID: req.ClientOrderID,
		Asset:         req.Asset,
		Side:          req.Side,
		Price:         req.Price,
		Amount:        req.Amount,
		Status:        "NEW",
	}
	m.orders[req.ClientOrderID] = order
	return order, nil
}

func (m *MockClient) FindOrderByClientID(ctx context.Context, asset, clientOrderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, Soft("context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[clientOrderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}
