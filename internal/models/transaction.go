package models

import (
	"time"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeTopUp    TransactionType = "top_up"
)

type PaymentMethod string

const (
	PaymentMethodBalance PaymentMethod = "balance"
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
)

// Valid reports whether the method is one of the known payment methods.
func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentMethodBalance, PaymentMethodCash, PaymentMethodCard:
		return true
	}
	return false
}

// UsesBalance reports whether paying with this method debits the prepaid balance.
func (p PaymentMethod) UsesBalance() bool {
	return p == PaymentMethodBalance
}

// Transaction is an immutable ledger record. Purchases own one or more
// line items; top-ups own none.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organizationId" db:"organization_id"`
	CustomerID     string            `json:"customerId" db:"customer_id"`
	OperatorID     string            `json:"operatorId" db:"operator_id"`
	EventID        string            `json:"eventId,omitempty" db:"event_id"`
	Type           TransactionType   `json:"type" db:"transaction_type"`
	TotalAmount    Money             `json:"totalAmount" db:"total_amount"`
	PaymentMethod  PaymentMethod     `json:"paymentMethod" db:"payment_method"`
	Notes          string            `json:"notes,omitempty" db:"notes"`
	BalanceAfter   Money             `json:"balanceAfter" db:"balance_after"`
	CreatedAt      time.Time         `json:"createdAt" db:"created_at"`
	Items          []TransactionItem `json:"items"`
}

// TransactionItem is one product line. UnitPrice is captured when the
// transaction is built so later price edits never rewrite history.
type TransactionItem struct {
	LineNo    int    `json:"lineNo" db:"line_no"`
	ProductID string `json:"productId" db:"product_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
	UnitPrice Money  `json:"unitPrice" db:"unit_price"`
	LineTotal Money  `json:"lineTotal" db:"total_price"`
}

// ItemsTotal sums the line totals, reporting overflow.
func (t *Transaction) ItemsTotal() (Money, error) {
	var total Money
	for _, item := range t.Items {
		var err error
		if total, err = total.Add(item.LineTotal); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// DailyStats aggregates committed transactions for one calendar day.
type DailyStats struct {
	Date            string `json:"date"`
	TotalSales      int    `json:"totalSales"`
	TotalRevenue    Money  `json:"totalRevenue"`
	UniqueCustomers int    `json:"uniqueCustomers"`
	TopUpCount      int    `json:"topUpCount"`
	TopUpAmount     Money  `json:"topUpAmount"`
}
