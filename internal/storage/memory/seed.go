package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// DemoOrders возвращает набор заказов для локального запуска backend-заглушки.
func DemoOrders(now time.Time) []domain.Order {
	now = now.UTC()
	return []domain.Order{
		{
			ID: 123, CustomerID: "customer-1", StoreID: "store-eu", Currency: "EUR",
			Items: []domain.LineItem{
				{ID: 1, Status: domain.ItemStatusPreparing, Name: "Ceramic mug", SKU: "MUG-001", Qty: 2, UnitPriceMinor: 1290},
				{ID: 2, Status: domain.ItemStatusProcessing, Name: "Dinner plate", SKU: "PLT-014", Qty: 4, UnitPriceMinor: 990},
			},
			CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
		},
		{
			ID: 124, CustomerID: "customer-2", StoreID: "store-eu", Currency: "EUR",
			Items: []domain.LineItem{
				{ID: 3, Status: domain.ItemStatusPending, Name: "Tea kettle", SKU: "KTL-220", Qty: 1, UnitPriceMinor: 4500},
			},
			CreatedAt: now.Add(-24 * time.Hour), UpdatedAt: now.Add(-24 * time.Hour),
		},
		{
			ID: 125, CustomerID: "customer-3", StoreID: "store-us", Currency: "USD",
			Items: []domain.LineItem{
				{ID: 4, Status: domain.ItemStatusBackordered, Name: "Linen napkins", SKU: "NPK-008", Qty: 6, UnitPriceMinor: 350, Notes: "supplier ETA next week"},
				{ID: 5, Status: domain.ItemStatusShipped, Name: "Salad bowl", SKU: "BWL-031", Qty: 1, UnitPriceMinor: 2100},
				{ID: 6, Status: domain.ItemStatusDelivered, Name: "Butter knife", SKU: "KNF-002", Qty: 2, UnitPriceMinor: 600},
			},
			CreatedAt: now.Add(-6 * time.Hour), UpdatedAt: now.Add(-time.Hour),
		},
	}
}

// Seed сохраняет заказы; уже существующие пропускаются.
func Seed(ctx context.Context, repo domain.OrderRepository, orders []domain.Order) (int, error) {
	created := 0
	for _, order := range orders {
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return created, fmt.Errorf("seed order %d: %w", order.ID, errors.Join(errs...))
		}
		err := repo.Create(ctx, order)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrOrderExists), errors.Is(err, domain.ErrItemIDDuplicate):
			continue
		default:
			return created, fmt.Errorf("seed order %d: %w", order.ID, err)
		}
	}
	return created, nil
}
