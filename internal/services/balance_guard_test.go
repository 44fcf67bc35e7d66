package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

func TestBalanceGuard_Check(t *testing.T) {
	guard := BalanceGuard{}
	customer := &models.Customer{ID: testCustomer, Balance: 1000}

	tests := []struct {
		name   string
		total  models.Money
		method models.PaymentMethod
		kind   ledger.Kind
	}{
		{"exact balance", 1000, models.PaymentMethodBalance, ""},
		{"short by one cent", 1001, models.PaymentMethodBalance, ledger.KindInsufficientBalance},
		{"cash ignores balance", 999999, models.PaymentMethodCash, ""},
		{"card ignores balance", 999999, models.PaymentMethodCard, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(customer, tt.total, tt.method)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, ledger.IsKind(err, tt.kind))
		})
	}
}

func TestBalanceGuard_Arithmetic(t *testing.T) {
	guard := BalanceGuard{}

	next, err := guard.Debit(testCustomer, 5000, 4400)
	require.NoError(t, err)
	assert.Equal(t, models.Money(600), next)

	_, err = guard.Debit(testCustomer, 1000, 1500)
	assert.True(t, ledger.IsKind(err, ledger.KindInsufficientBalance))

	_, err = guard.Debit(testCustomer, 1000, -1)
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidAmount))

	next, err = guard.Credit(500, 2500)
	require.NoError(t, err)
	assert.Equal(t, models.Money(3000), next)

	_, err = guard.Credit(500, 0)
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidAmount))

	_, err = guard.Credit(math.MaxInt64, 1)
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidAmount))
	assert.ErrorIs(t, err, models.ErrMoneyOverflow)
}

func TestBalanceGuard_Confirm(t *testing.T) {
	guard := BalanceGuard{}

	assert.NoError(t, guard.Confirm(testCustomer, 600, 600))

	err := guard.Confirm(testCustomer, 600, 601)
	assert.True(t, ledger.IsKind(err, ledger.KindStoreUnavailable))
	assert.False(t, ledger.IsRetryable(err))
}
