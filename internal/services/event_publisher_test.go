package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpay/backend/internal/models"
)

func TestRedisEventPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	event := NewTransactionEvent(&models.Transaction{
		ID:             "00000000-0000-4000-8000-000000000001",
		OrganizationID: testOrg,
		CustomerID:     testCustomer,
		OperatorID:     testOperator,
		Type:           models.TransactionTypePurchase,
		PaymentMethod:  models.PaymentMethodBalance,
		TotalAmount:    4400,
		BalanceAfter:   600,
		CreatedAt:      testNow,
		Items:          make([]models.TransactionItem, 2),
	})

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	t.Run("pushes to the default queue", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		publisher := NewRedisEventPublisher(db, "")

		mock.ExpectRPush(DefaultEventQueue, payload).SetVal(1)

		assert.NoError(t, publisher.Publish(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns redis errors", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		publisher := NewRedisEventPublisher(db, "events")

		mock.ExpectRPush("events", payload).SetErr(errors.New("READONLY"))

		assert.Error(t, publisher.Publish(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("encodes money as decimal strings", func(t *testing.T) {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))

		assert.Equal(t, "44.00", decoded["totalAmount"])
		assert.Equal(t, "6.00", decoded["balanceAfter"])
		assert.Equal(t, float64(2), decoded["itemCount"])
	})
}
