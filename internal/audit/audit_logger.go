package audit

import (
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

const (
	StatusCommitted = "COMMITTED"
	StatusAborted   = "ABORTED"
)

// Logger writes one AUDIT record per engine operation outcome.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit")}
}

func (a *Logger) LogCommitted(tx *models.Transaction) {
	if a == nil {
		return
	}

	a.logger.Info("AUDIT",
		zap.String("status", StatusCommitted),
		zap.String("event_type", string(tx.Type)),
		zap.String("transaction_id", tx.ID),
		zap.String("organization_id", tx.OrganizationID),
		zap.String("customer_id", tx.CustomerID),
		zap.String("operator_id", tx.OperatorID),
		zap.String("payment_method", string(tx.PaymentMethod)),
		zap.Stringer("amount", tx.TotalAmount),
		zap.Stringer("balance_after", tx.BalanceAfter),
		zap.Int("items", len(tx.Items)),
	)
}

func (a *Logger) LogAborted(eventType models.TransactionType, orgID, customerID, operatorID string, err error) {
	if a == nil {
		return
	}

	a.logger.Warn("AUDIT",
		zap.String("status", StatusAborted),
		zap.String("event_type", string(eventType)),
		zap.String("organization_id", orgID),
		zap.String("customer_id", customerID),
		zap.String("operator_id", operatorID),
		zap.String("kind", string(ledger.KindOf(err))),
		zap.Error(err),
	)
}
