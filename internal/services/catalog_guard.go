package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

// LineRequest is one requested (product, quantity) pair.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CatalogGuard validates requested lines against the catalog inside an open
// unit of work. It never mutates anything.
type CatalogGuard struct{}

// Validate locks every referenced product and returns one priced line per
// distinct product, in the order each product first appears in lines.
func (CatalogGuard) Validate(ctx context.Context, uow ledger.UnitOfWork, orgID string, lines []LineRequest) ([]models.TransactionItem, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	// Lock in ascending id order so concurrent purchases never deadlock.
	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}
	sort.Strings(ids)

	products := make(map[string]*models.Product, len(ids))
	for _, id := range ids {
		product, err := uow.ProductForUpdate(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if !product.IsAvailable {
			return nil, ledger.ErrProductNotFound(id)
		}
		products[id] = product
	}

	items := make([]models.TransactionItem, 0, len(merged))
	for i, line := range merged {
		product := products[line.ProductID]

		if line.Quantity > product.StockQuantity {
			return nil, ledger.ErrInsufficientStock(product.ID, line.Quantity, product.StockQuantity)
		}

		lineTotal, err := product.Price.MulQty(line.Quantity)
		if err != nil {
			return nil, ledger.ErrInvalidAmount(product.Price, err)
		}

		items = append(items, models.TransactionItem{
			LineNo:    i + 1,
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			LineTotal: lineTotal,
		})
	}

	return items, nil
}

// mergeLines folds repeated product ids into the first occurrence.
func mergeLines(lines []LineRequest) ([]LineRequest, error) {
	if len(lines) == 0 {
		return nil, ledger.ErrInvalidRequest("items", fmt.Errorf("at least one item is required"))
	}

	index := make(map[string]int, len(lines))
	merged := make([]LineRequest, 0, len(lines))
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, ledger.ErrInvalidRequest(fmt.Sprintf("items[%d].quantity", i), fmt.Errorf("quantity must be positive"))
		}

		pos, seen := index[line.ProductID]
		if !seen {
			index[line.ProductID] = len(merged)
			merged = append(merged, line)
			continue
		}

		if merged[pos].Quantity > math.MaxInt32-line.Quantity {
			return nil, ledger.ErrInvalidRequest(fmt.Sprintf("items[%d].quantity", i), fmt.Errorf("quantity too large"))
		}
		merged[pos].Quantity += line.Quantity
	}

	return merged, nil
}
