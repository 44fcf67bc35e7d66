package ledger

import (
	"errors"
	"fmt"

	"github.com/eventpay/backend/internal/models"
)

// Kind classifies every failure the ledger and the engine on top of it can return.
type Kind string

const (
	KindCustomerNotFound    Kind = "CUSTOMER_NOT_FOUND"
	KindProductNotFound     Kind = "PRODUCT_NOT_FOUND"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindTransactionNotFound Kind = "TRANSACTION_NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
)

// Error carries a Kind plus the structured context a caller needs to build
// a message. It never carries display text.
type Error struct {
	Kind Kind

	CustomerID    string
	ProductID     string
	TransactionID string

	// InsufficientStock
	Requested int
	Available int

	// InsufficientBalance
	Required models.Money
	Balance  models.Money

	// InvalidAmount
	Amount models.Money

	// InvalidRequest
	Field string

	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindCustomerNotFound:
		msg = fmt.Sprintf("customer %s not found", e.CustomerID)
	case KindProductNotFound:
		msg = fmt.Sprintf("product %s not found", e.ProductID)
	case KindTransactionNotFound:
		msg = fmt.Sprintf("transaction %s not found", e.TransactionID)
	case KindInsufficientStock:
		msg = fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	case KindInsufficientBalance:
		msg = fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Balance)
	case KindInvalidAmount:
		msg = fmt.Sprintf("invalid amount %s", e.Amount)
	case KindInvalidRequest:
		msg = fmt.Sprintf("invalid request field %s", e.Field)
	default:
		msg = string(e.Kind)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the whole operation may be retried unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict
}

// KindOf extracts the Kind of err. Errors that did not come from the ledger
// are treated as store failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindStoreUnavailable
}

// IsKind reports whether err is a ledger error of the given kind.
func IsKind(err error, kind Kind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}

// IsRetryable reports whether err is safe to retry as a whole operation.
func IsRetryable(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Retryable()
}

func ErrCustomerNotFound(customerID string) error {
	return &Error{Kind: KindCustomerNotFound, CustomerID: customerID}
}

func ErrProductNotFound(productID string) error {
	return &Error{Kind: KindProductNotFound, ProductID: productID}
}

func ErrTransactionNotFound(transactionID string) error {
	return &Error{Kind: KindTransactionNotFound, TransactionID: transactionID}
}

func ErrInsufficientStock(productID string, requested, available int) error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Requested: requested, Available: available}
}

func ErrInsufficientBalance(customerID string, required, balance models.Money) error {
	return &Error{Kind: KindInsufficientBalance, CustomerID: customerID, Required: required, Balance: balance}
}

func ErrInvalidAmount(amount models.Money, cause error) error {
	return &Error{Kind: KindInvalidAmount, Amount: amount, Err: cause}
}

func ErrInvalidRequest(field string, cause error) error {
	return &Error{Kind: KindInvalidRequest, Field: field, Err: cause}
}

func ErrConflict(cause error) error {
	return &Error{Kind: KindConflict, Err: cause}
}

func ErrStoreUnavailable(cause error) error {
	return &Error{Kind: KindStoreUnavailable, Err: cause}
}
