package services

import (
	"fmt"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

// BalanceGuard holds the money rules for prepaid balances.
type BalanceGuard struct{}

// Check fails with InsufficientBalance when a balance payment cannot be
// covered. Cash and card payments are not checked.
func (BalanceGuard) Check(customer *models.Customer, total models.Money, method models.PaymentMethod) error {
	if !method.UsesBalance() {
		return nil
	}
	if customer.Balance < total {
		return ledger.ErrInsufficientBalance(customer.ID, total, customer.Balance)
	}
	return nil
}

// Debit returns balance-amount. The result is never negative.
func (BalanceGuard) Debit(customerID string, balance, amount models.Money) (models.Money, error) {
	if amount < 0 {
		return 0, ledger.ErrInvalidAmount(amount, fmt.Errorf("debit must not be negative"))
	}
	if balance < amount {
		return 0, ledger.ErrInsufficientBalance(customerID, amount, balance)
	}

	next, err := balance.Sub(amount)
	if err != nil {
		return 0, ledger.ErrInvalidAmount(amount, err)
	}
	return next, nil
}

// Credit returns balance+amount for a strictly positive amount.
func (BalanceGuard) Credit(balance, amount models.Money) (models.Money, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount(amount, fmt.Errorf("amount must be positive"))
	}

	next, err := balance.Add(amount)
	if err != nil {
		return 0, ledger.ErrInvalidAmount(amount, err)
	}
	return next, nil
}

// Confirm fails when the balance the store wrote differs from the one the
// guard computed. The row is locked, so any difference is a store fault.
func (BalanceGuard) Confirm(customerID string, expected, actual models.Money) error {
	if expected == actual {
		return nil
	}
	return ledger.ErrStoreUnavailable(fmt.Errorf("customer %s: stored balance %s, expected %s", customerID, actual, expected))
}
