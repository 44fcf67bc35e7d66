package ledger

import (
	"context"
	"time"

	"github.com/eventpay/backend/internal/models"
)

// UnitOfWork is the set of read-modify-write primitives available inside one
// atomic unit. Every value read through it is held under an exclusive row
// lock until the unit ends.
type UnitOfWork interface {
	CustomerForUpdate(ctx context.Context, orgID, customerID string) (*models.Customer, error)
	ProductForUpdate(ctx context.Context, orgID, productID string) (*models.Product, error)

	// ApplyBalanceDelta adds delta to the customer's balance and returns the
	// result. A negative delta is a debit and is added to total spent.
	ApplyBalanceDelta(ctx context.Context, customerID string, delta models.Money) (models.Money, error)

	// ApplyStockDelta adds delta to the product's stock and returns the result.
	ApplyStockDelta(ctx context.Context, productID string, delta int) (int, error)

	// AppendTransaction writes the transaction together with all of its line items.
	AppendTransaction(ctx context.Context, tx *models.Transaction) error

	// InsertCustomer writes a new customer row and holds its lock until the
	// unit ends. A taken id or scan token is a Conflict.
	InsertCustomer(ctx context.Context, c *models.Customer) error

	// UpdateCustomer writes the profile fields of a locked customer: full
	// name, event and active flag. Balances are left alone.
	UpdateCustomer(ctx context.Context, c *models.Customer) error
}

// Store is the durable ledger. Writes only happen through WithinUnitOfWork.
type Store interface {
	// WithinUnitOfWork runs fn in a fresh unit of work. The unit commits when
	// fn returns nil and rolls back when fn returns an error, panics, or ctx
	// is done before commit.
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error

	Customer(ctx context.Context, orgID, customerID string) (*models.Customer, error)
	CustomerByScanToken(ctx context.Context, orgID, token string) (*models.Customer, error)
	Transaction(ctx context.Context, orgID, transactionID string) (*models.Transaction, error)

	// DailyStats aggregates committed transactions created in [from, to).
	DailyStats(ctx context.Context, orgID string, from, to time.Time) (*models.DailyStats, error)
}
