package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/audit"
	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

const (
	statsDateLayout = "2006-01-02"
	publishTimeout  = 2 * time.Second
)

type PurchaseRequest struct {
	CustomerID     string
	OperatorID     string
	OrganizationID string
	EventID        string
	Items          []LineRequest
	PaymentMethod  models.PaymentMethod
	Notes          string
}

type TopUpRequest struct {
	CustomerID     string
	OperatorID     string
	OrganizationID string
	Amount         models.Money
	PaymentMethod  models.PaymentMethod
	Notes          string
}

// Result is a committed transaction and the customer's balance right after it.
type Result struct {
	Transaction *models.Transaction
	Balance     models.Money
}

// TransactionEngine runs purchases and top-ups as single units of work.
// It is safe for concurrent use and starts no goroutines of its own.
type TransactionEngine struct {
	store     ledger.Store
	catalog   CatalogGuard
	balance   BalanceGuard
	publisher EventPublisher
	audit     *audit.Logger
	logger    *zap.Logger
	retry     RetryPolicy
	location  *time.Location
	now       func() time.Time
	newID     func() string
}

type EngineOption func(*TransactionEngine)

func WithPublisher(p EventPublisher) EngineOption {
	return func(e *TransactionEngine) { e.publisher = p }
}

func WithAuditLogger(a *audit.Logger) EngineOption {
	return func(e *TransactionEngine) { e.audit = a }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *TransactionEngine) { e.logger = l }
}

func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *TransactionEngine) { e.retry = p }
}

// WithLocation sets the timezone that defines a calendar day for stats.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *TransactionEngine) { e.location = loc }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *TransactionEngine) { e.now = now }
}

func WithIDGenerator(newID func() string) EngineOption {
	return func(e *TransactionEngine) { e.newID = newID }
}

func NewTransactionEngine(store ledger.Store, opts ...EngineOption) *TransactionEngine {
	e := &TransactionEngine{
		store:    store,
		logger:   zap.NewNop(),
		retry:    DefaultRetryPolicy(),
		location: time.UTC,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Purchase validates, prices and charges a basket in one unit of work.
func (e *TransactionEngine) Purchase(ctx context.Context, req PurchaseRequest) (*Result, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodBalance
	}

	if err := validatePurchase(req); err != nil {
		e.audit.LogAborted(models.TransactionTypePurchase, req.OrganizationID, req.CustomerID, req.OperatorID, err)
		return nil, err
	}

	txID := e.newID()

	var result *Result
	err := e.retry.Do(ctx, e.logger, "purchase", func() error {
		r, err := e.purchaseOnce(ctx, txID, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		e.audit.LogAborted(models.TransactionTypePurchase, req.OrganizationID, req.CustomerID, req.OperatorID, err)
		return nil, err
	}

	e.NotifyCommitted(ctx, result.Transaction)
	return result, nil
}

func (e *TransactionEngine) purchaseOnce(ctx context.Context, txID string, req PurchaseRequest) (*Result, error) {
	var result *Result

	err := e.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		customer, err := uow.CustomerForUpdate(ctx, req.OrganizationID, req.CustomerID)
		if err != nil {
			return err
		}
		if !customer.IsActive {
			return ledger.ErrCustomerNotFound(req.CustomerID)
		}

		items, err := e.catalog.Validate(ctx, uow, req.OrganizationID, req.Items)
		if err != nil {
			return err
		}

		tx := &models.Transaction{
			ID:             txID,
			OrganizationID: req.OrganizationID,
			CustomerID:     customer.ID,
			OperatorID:     req.OperatorID,
			EventID:        req.EventID,
			Type:           models.TransactionTypePurchase,
			PaymentMethod:  req.PaymentMethod,
			Notes:          req.Notes,
			Items:          items,
		}

		total, err := tx.ItemsTotal()
		if err != nil {
			return ledger.ErrInvalidAmount(total, err)
		}
		tx.TotalAmount = total

		if err := e.balance.Check(customer, total, req.PaymentMethod); err != nil {
			return err
		}

		for _, item := range items {
			if _, err := uow.ApplyStockDelta(ctx, item.ProductID, -item.Quantity); err != nil {
				return err
			}
		}

		balance := customer.Balance
		if req.PaymentMethod.UsesBalance() && total > 0 {
			expected, err := e.balance.Debit(customer.ID, customer.Balance, total)
			if err != nil {
				return err
			}
			if balance, err = uow.ApplyBalanceDelta(ctx, customer.ID, -total); err != nil {
				return err
			}
			if err := e.balance.Confirm(customer.ID, expected, balance); err != nil {
				return err
			}
		}

		tx.BalanceAfter = balance
		tx.CreatedAt = e.now().UTC()

		if err := uow.AppendTransaction(ctx, tx); err != nil {
			return err
		}

		result = &Result{Transaction: tx, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TopUp credits a customer's balance and records a top_up transaction.
func (e *TransactionEngine) TopUp(ctx context.Context, req TopUpRequest) (*Result, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}

	if err := validateTopUp(req); err != nil {
		e.audit.LogAborted(models.TransactionTypeTopUp, req.OrganizationID, req.CustomerID, req.OperatorID, err)
		return nil, err
	}

	txID := e.newID()

	var result *Result
	err := e.retry.Do(ctx, e.logger, "top_up", func() error {
		return e.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
			customer, err := uow.CustomerForUpdate(ctx, req.OrganizationID, req.CustomerID)
			if err != nil {
				return err
			}
			if !customer.IsActive {
				return ledger.ErrCustomerNotFound(req.CustomerID)
			}

			expected, err := e.balance.Credit(customer.Balance, req.Amount)
			if err != nil {
				return err
			}

			balance, err := uow.ApplyBalanceDelta(ctx, customer.ID, req.Amount)
			if err != nil {
				return err
			}
			if err := e.balance.Confirm(customer.ID, expected, balance); err != nil {
				return err
			}

			tx := &models.Transaction{
				ID:             txID,
				OrganizationID: req.OrganizationID,
				CustomerID:     customer.ID,
				OperatorID:     req.OperatorID,
				EventID:        customer.EventID,
				Type:           models.TransactionTypeTopUp,
				TotalAmount:    req.Amount,
				PaymentMethod:  req.PaymentMethod,
				Notes:          req.Notes,
				BalanceAfter:   balance,
				CreatedAt:      e.now().UTC(),
				Items:          []models.TransactionItem{},
			}
			if err := uow.AppendTransaction(ctx, tx); err != nil {
				return err
			}

			result = &Result{Transaction: tx, Balance: balance}
			return nil
		})
	})
	if err != nil {
		e.audit.LogAborted(models.TransactionTypeTopUp, req.OrganizationID, req.CustomerID, req.OperatorID, err)
		return nil, err
	}

	e.NotifyCommitted(ctx, result.Transaction)
	return result, nil
}

// DailyStats aggregates one calendar day in the engine's timezone. An empty
// date means today.
func (e *TransactionEngine) DailyStats(ctx context.Context, orgID, date string) (*models.DailyStats, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := e.now().In(e.location)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
	} else {
		parsed, err := time.ParseInLocation(statsDateLayout, date, e.location)
		if err != nil {
			return nil, ledger.ErrInvalidRequest("date", err)
		}
		day = parsed
	}

	stats, err := e.store.DailyStats(ctx, orgID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	stats.Date = day.Format(statsDateLayout)

	return stats, nil
}

// Transaction returns a committed transaction with its line items.
func (e *TransactionEngine) Transaction(ctx context.Context, orgID, id string) (*models.Transaction, error) {
	return e.store.Transaction(ctx, orgID, id)
}

// NotifyCommitted audits, logs and publishes a committed transaction. It
// never changes the outcome of the committed operation.
func (e *TransactionEngine) NotifyCommitted(ctx context.Context, tx *models.Transaction) {
	e.audit.LogCommitted(tx)

	e.logger.Info("transaction committed",
		zap.String("transaction_id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.Stringer("total", tx.TotalAmount),
	)

	if e.publisher == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := e.publisher.Publish(pctx, NewTransactionEvent(tx)); err != nil {
		e.logger.Warn("failed to publish transaction event",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
}

func validatePurchase(req PurchaseRequest) error {
	if req.OrganizationID == "" {
		return ledger.ErrInvalidRequest("organizationId", fmt.Errorf("required"))
	}
	if req.CustomerID == "" {
		return ledger.ErrInvalidRequest("customerId", fmt.Errorf("required"))
	}
	if req.OperatorID == "" {
		return ledger.ErrInvalidRequest("operatorId", fmt.Errorf("required"))
	}
	if !req.PaymentMethod.Valid() {
		return ledger.ErrInvalidRequest("paymentMethod", fmt.Errorf("unknown payment method %q", req.PaymentMethod))
	}
	_, err := mergeLines(req.Items)
	return err
}

func validateTopUp(req TopUpRequest) error {
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount(req.Amount, fmt.Errorf("amount must be positive"))
	}
	if req.OrganizationID == "" {
		return ledger.ErrInvalidRequest("organizationId", fmt.Errorf("required"))
	}
	if req.CustomerID == "" {
		return ledger.ErrInvalidRequest("customerId", fmt.Errorf("required"))
	}
	if req.OperatorID == "" {
		return ledger.ErrInvalidRequest("operatorId", fmt.Errorf("required"))
	}
	if !req.PaymentMethod.Valid() || req.PaymentMethod.UsesBalance() {
		return ledger.ErrInvalidRequest("paymentMethod", fmt.Errorf("top-ups must be paid in cash or card, got %q", req.PaymentMethod))
	}
	return nil
}
