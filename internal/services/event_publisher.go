package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/eventpay/backend/internal/models"
)

const DefaultEventQueue = "ledger:transactions"

// TransactionEvent is the notification emitted after a transaction commits.
type TransactionEvent struct {
	TransactionID  string                 `json:"transactionId"`
	OrganizationID string                 `json:"organizationId"`
	CustomerID     string                 `json:"customerId"`
	OperatorID     string                 `json:"operatorId"`
	Type           models.TransactionType `json:"type"`
	PaymentMethod  models.PaymentMethod   `json:"paymentMethod"`
	TotalAmount    models.Money           `json:"totalAmount"`
	BalanceAfter   models.Money           `json:"balanceAfter"`
	ItemCount      int                    `json:"itemCount"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func NewTransactionEvent(tx *models.Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID:  tx.ID,
		OrganizationID: tx.OrganizationID,
		CustomerID:     tx.CustomerID,
		OperatorID:     tx.OperatorID,
		Type:           tx.Type,
		PaymentMethod:  tx.PaymentMethod,
		TotalAmount:    tx.TotalAmount,
		BalanceAfter:   tx.BalanceAfter,
		ItemCount:      len(tx.Items),
		CreatedAt:      tx.CreatedAt,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
}

// RedisEventPublisher appends events to a Redis list for downstream consumers.
type RedisEventPublisher struct {
	client redis.Cmdable
	queue  string
}

func NewRedisEventPublisher(client redis.Cmdable, queue string) *RedisEventPublisher {
	if queue == "" {
		queue = DefaultEventQueue
	}
	return &RedisEventPublisher{client: client, queue: queue}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.client.RPush(ctx, p.queue, data).Err()
}
