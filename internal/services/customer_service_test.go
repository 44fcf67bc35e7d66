package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

func TestCustomerService_ResolveScanToken(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 5000)
	service := NewCustomerService(f.store)

	t.Run("active customer", func(t *testing.T) {
		customer, err := service.ResolveScanToken(ctx, testOrg, "tok-ana")
		require.NoError(t, err)
		assert.Equal(t, testCustomer, customer.ID)
		assert.Equal(t, models.Money(5000), customer.Balance)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := service.ResolveScanToken(ctx, testOrg, "tok-nobody")
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))
	})

	t.Run("other organization", func(t *testing.T) {
		_, err := service.ResolveScanToken(ctx, "other-org", "tok-ana")
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := service.ResolveScanToken(ctx, testOrg, "")
		assert.True(t, ledger.IsKind(err, ledger.KindInvalidRequest))
	})

	t.Run("deactivated customer", func(t *testing.T) {
		f.store.AddCustomer(models.Customer{ID: testCustomer, OrganizationID: testOrg, ScanToken: "tok-ana", IsActive: false})

		_, err := service.ResolveScanToken(ctx, testOrg, "tok-ana")
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))
	})
}

func TestCustomerService_QRCode(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 0)
	service := NewCustomerService(f.store)

	data, err := service.QRCode(ctx, testOrg, testCustomer, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultQRSize, img.Bounds().Dx())

	_, err = service.QRCode(ctx, testOrg, testCustomer, MaxQRSize+1)
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidRequest))

	_, err = service.QRCode(ctx, testOrg, "missing", 128)
	assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))

	f.store.AddCustomer(models.Customer{ID: testCustomer, OrganizationID: testOrg, ScanToken: "tok-ana", IsActive: false})
	_, err = service.QRCode(ctx, testOrg, testCustomer, 128)
	assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))
}

func newCustomerService(f *engineFixture, tokens []string, opts ...CustomerOption) *CustomerService {
	seq := 100
	base := []CustomerOption{
		WithCustomerClock(func() time.Time { return testNow }),
		WithCustomerIDGenerator(func() string {
			seq++
			return fmt.Sprintf("00000000-0000-4000-8000-%012d", seq)
		}),
		WithCustomerRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}),
		WithTokenGenerator(func() string {
			token := tokens[0]
			if len(tokens) > 1 {
				tokens = tokens[1:]
			}
			return token
		}),
	}
	return NewCustomerService(f.store, append(base, opts...)...)
}

func TestCustomerService_CreateCustomer(t *testing.T) {
	ctx := context.Background()

	t.Run("opening balance is a committed top-up", func(t *testing.T) {
		f := newEngineFixture(t, 0)
		var committed []*models.Transaction
		service := newCustomerService(f, []string{"tok-bo"}, WithCommitHook(func(ctx context.Context, tx *models.Transaction) {
			committed = append(committed, tx)
		}))

		reg, err := service.CreateCustomer(ctx, CreateCustomerRequest{
			OrganizationID: testOrg,
			OperatorID:     testOperator,
			FullName:       "  Bo  ",
			InitialBalance: 3000,
		})
		require.NoError(t, err)

		assert.Equal(t, "Bo", reg.Customer.FullName)
		assert.Equal(t, "tok-bo", reg.Customer.ScanToken)
		assert.True(t, reg.Customer.IsActive)
		assert.Equal(t, models.Money(3000), reg.Customer.Balance)
		assert.Equal(t, testNow, reg.Customer.RegisteredAt)

		require.NotNil(t, reg.Opening)
		assert.Equal(t, models.TransactionTypeTopUp, reg.Opening.Type)
		assert.Equal(t, models.PaymentMethodCash, reg.Opening.PaymentMethod)
		assert.Equal(t, reg.Customer.ID, reg.Opening.CustomerID)
		assert.Equal(t, models.Money(3000), reg.Opening.BalanceAfter)
		assert.Equal(t, []*models.Transaction{reg.Opening}, committed)

		stored, err := f.store.Transaction(ctx, testOrg, reg.Opening.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Money(3000), stored.TotalAmount)

		scanned, err := service.ResolveScanToken(ctx, testOrg, "tok-bo")
		require.NoError(t, err)
		assert.Equal(t, reg.Customer.ID, scanned.ID)

		result, err := f.engine.Purchase(ctx, PurchaseRequest{
			CustomerID:     reg.Customer.ID,
			OperatorID:     testOperator,
			OrganizationID: testOrg,
			Items:          []LineRequest{{ProductID: testBeer, Quantity: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, models.Money(1800), result.Balance)
	})

	t.Run("unfunded customer has no transaction", func(t *testing.T) {
		f := newEngineFixture(t, 0)
		called := false
		service := newCustomerService(f, []string{"tok-cy"}, WithCommitHook(func(context.Context, *models.Transaction) {
			called = true
		}))

		reg, err := service.CreateCustomer(ctx, CreateCustomerRequest{
			OrganizationID: testOrg,
			OperatorID:     testOperator,
			FullName:       "Cy",
		})
		require.NoError(t, err)

		assert.Nil(t, reg.Opening)
		assert.Zero(t, reg.Customer.Balance)
		assert.False(t, called)
		assert.Zero(t, f.store.Snapshot().Transactions)
	})

	t.Run("taken token is reissued", func(t *testing.T) {
		f := newEngineFixture(t, 0)
		service := newCustomerService(f, []string{"tok-ana", "tok-fresh"})

		reg, err := service.CreateCustomer(ctx, CreateCustomerRequest{
			OrganizationID: testOrg,
			OperatorID:     testOperator,
			FullName:       "Di",
			InitialBalance: 500,
		})
		require.NoError(t, err)

		assert.Equal(t, "tok-fresh", reg.Customer.ScanToken)
		snap := f.store.Snapshot()
		assert.Len(t, snap.Customers, 2)
		assert.Equal(t, 1, snap.Transactions)
	})

	t.Run("default generator issues distinct tokens", func(t *testing.T) {
		f := newEngineFixture(t, 0)
		service := NewCustomerService(f.store)

		first, err := service.CreateCustomer(ctx, CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "Ed"})
		require.NoError(t, err)
		second, err := service.CreateCustomer(ctx, CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "Flo"})
		require.NoError(t, err)

		assert.Len(t, first.Customer.ScanToken, 32)
		assert.NotEqual(t, first.Customer.ScanToken, second.Customer.ScanToken)
		assert.NotEqual(t, first.Customer.ID, second.Customer.ID)
	})

	tests := []struct {
		name string
		req  CreateCustomerRequest
		kind ledger.Kind
	}{
		{"negative opening balance", CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "Bo", InitialBalance: -1}, ledger.KindInvalidAmount},
		{"blank name", CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "   "}, ledger.KindInvalidRequest},
		{"balance cannot fund itself", CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "Bo", InitialBalance: 100, PaymentMethod: models.PaymentMethodBalance}, ledger.KindInvalidRequest},
		{"malformed event", CreateCustomerRequest{OrganizationID: testOrg, OperatorID: testOperator, FullName: "Bo", EventID: "fest"}, ledger.KindInvalidRequest},
		{"missing operator", CreateCustomerRequest{OrganizationID: testOrg, FullName: "Bo"}, ledger.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, 0)
			service := newCustomerService(f, []string{"tok-x"})

			_, err := service.CreateCustomer(ctx, tt.req)
			assert.True(t, ledger.IsKind(err, tt.kind), "got %v", err)
			assert.Len(t, f.store.Snapshot().Customers, 1)
		})
	}
}

func TestCustomerService_UpdateAndDeactivate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, 5000)
	service := newCustomerService(f, []string{"unused"})

	t.Run("edits the profile only", func(t *testing.T) {
		name := "Ana Maria"
		event := "e1d2c3b4-a5f6-4789-8abc-def012345678"

		customer, err := service.UpdateCustomer(ctx, testOrg, testCustomer, CustomerUpdate{FullName: &name, EventID: &event})
		require.NoError(t, err)
		assert.Equal(t, "Ana Maria", customer.FullName)
		assert.Equal(t, event, customer.EventID)
		assert.True(t, customer.IsActive)

		stored := f.store.Snapshot().Customers[testCustomer]
		assert.Equal(t, "Ana Maria", stored.FullName)
		assert.Equal(t, models.Money(5000), stored.Balance)
	})

	t.Run("rejects a blank name", func(t *testing.T) {
		blank := " "
		_, err := service.UpdateCustomer(ctx, testOrg, testCustomer, CustomerUpdate{FullName: &blank})
		assert.True(t, ledger.IsKind(err, ledger.KindInvalidRequest))
	})

	t.Run("other organization", func(t *testing.T) {
		_, err := service.DeactivateCustomer(ctx, "other-org", testCustomer)
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))
		assert.True(t, f.store.Snapshot().Customers[testCustomer].IsActive)
	})

	t.Run("deactivated customer is kept but unusable", func(t *testing.T) {
		customer, err := service.DeactivateCustomer(ctx, testOrg, testCustomer)
		require.NoError(t, err)
		assert.False(t, customer.IsActive)

		stored, err := service.Customer(ctx, testOrg, testCustomer)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, models.Money(5000), stored.Balance)

		_, err = service.ResolveScanToken(ctx, testOrg, "tok-ana")
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))

		_, err = service.QRCode(ctx, testOrg, testCustomer, 0)
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))

		_, err = f.engine.Purchase(ctx, purchase(LineRequest{ProductID: testBeer, Quantity: 1}))
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))

		_, err = f.engine.TopUp(ctx, TopUpRequest{CustomerID: testCustomer, OperatorID: testOperator, OrganizationID: testOrg, Amount: 100})
		assert.True(t, ledger.IsKind(err, ledger.KindCustomerNotFound))

		_, err = service.DeactivateCustomer(ctx, testOrg, testCustomer)
		assert.NoError(t, err)
	})

	t.Run("reactivation restores scanning", func(t *testing.T) {
		active := true
		_, err := service.UpdateCustomer(ctx, testOrg, testCustomer, CustomerUpdate{IsActive: &active})
		require.NoError(t, err)

		customer, err := service.ResolveScanToken(ctx, testOrg, "tok-ana")
		require.NoError(t, err)
		assert.Equal(t, models.Money(5000), customer.Balance)
	})
}
