package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eventpay/backend/internal/models"
)

// PostgreSQL error codes that mean "try the whole unit again".
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqCheckViolation       = "23514"
	pqUniqueViolation      = "23505"
)

const customerColumns = `id, organization_id, COALESCE(event_id::text, ''), full_name, scan_token,
	current_balance, total_spent, is_active, registered_at, last_activity_at`

const transactionColumns = `id, organization_id, customer_id, operator_id, COALESCE(event_id::text, ''),
	transaction_type, total_amount, payment_method, notes, balance_after, created_at`

// PostgresStore is the production Store. Units of work run at READ COMMITTED
// and take explicit row locks with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	// No-op after a successful commit; covers errors and panics otherwise.
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return classify(err)
		}
	}

	if err := fn(ctx, &pgUnit{tx: tx}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *PostgresStore) Customer(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	if !validID(customerID) {
		return nil, ErrCustomerNotFound(customerID)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1 AND organization_id = $2`, customerID, orgID)

	customer, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound(customerID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return customer, nil
}

func (s *PostgresStore) CustomerByScanToken(ctx context.Context, orgID, token string) (*models.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE scan_token = $1 AND organization_id = $2`, token, orgID)

	customer, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound(token)
	}
	if err != nil {
		return nil, classify(err)
	}
	return customer, nil
}

func (s *PostgresStore) Transaction(ctx context.Context, orgID, transactionID string) (*models.Transaction, error) {
	if !validID(transactionID) {
		return nil, ErrTransactionNotFound(transactionID)
	}

	var t models.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND organization_id = $2`, transactionID, orgID).Scan(
		&t.ID, &t.OrganizationID, &t.CustomerID, &t.OperatorID, &t.EventID,
		&t.Type, &t.TotalAmount, &t.PaymentMethod, &t.Notes, &t.BalanceAfter, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound(transactionID)
	}
	if err != nil {
		return nil, classify(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT line_no, product_id, quantity, unit_price, total_price
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY line_no`, transactionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	t.Items = []models.TransactionItem{}
	for rows.Next() {
		var item models.TransactionItem
		if err := rows.Scan(&item.LineNo, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, classify(err)
		}
		t.Items = append(t.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return &t, nil
}

func (s *PostgresStore) DailyStats(ctx context.Context, orgID string, from, to time.Time) (*models.DailyStats, error) {
	var stats models.DailyStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE transaction_type = 'purchase'),
			COALESCE(SUM(total_amount) FILTER (WHERE transaction_type = 'purchase'), 0),
			COUNT(DISTINCT customer_id),
			COUNT(*) FILTER (WHERE transaction_type = 'top_up'),
			COALESCE(SUM(total_amount) FILTER (WHERE transaction_type = 'top_up'), 0)
		FROM transactions
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3`, orgID, from, to).Scan(
		&stats.TotalSales, &stats.TotalRevenue, &stats.UniqueCustomers, &stats.TopUpCount, &stats.TopUpAmount,
	)
	if err != nil {
		return nil, classify(err)
	}
	return &stats, nil
}

type pgUnit struct {
	tx *sql.Tx
}

func (u *pgUnit) CustomerForUpdate(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	if !validID(customerID) {
		return nil, ErrCustomerNotFound(customerID)
	}

	row := u.tx.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE`, customerID, orgID)

	customer, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound(customerID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return customer, nil
}

func (u *pgUnit) ProductForUpdate(ctx context.Context, orgID, productID string) (*models.Product, error) {
	if !validID(productID) {
		return nil, ErrProductNotFound(productID)
	}

	var p models.Product
	err := u.tx.QueryRowContext(ctx, `
		SELECT id, organization_id, name, COALESCE(category, ''), price, stock_quantity, is_available
		FROM products
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE`, productID, orgID).Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.Category, &p.Price, &p.StockQuantity, &p.IsAvailable,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound(productID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (u *pgUnit) ApplyBalanceDelta(ctx context.Context, customerID string, delta models.Money) (models.Money, error) {
	var spent models.Money
	if delta < 0 {
		spent = -delta
	}

	var balance models.Money
	err := u.tx.QueryRowContext(ctx, `
		UPDATE customers
		SET current_balance = current_balance + $2,
			total_spent = total_spent + $3,
			last_activity_at = NOW()
		WHERE id = $1
		RETURNING current_balance`, customerID, delta, spent).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCustomerNotFound(customerID)
	}
	if err != nil {
		return 0, classify(err)
	}
	return balance, nil
}

func (u *pgUnit) ApplyStockDelta(ctx context.Context, productID string, delta int) (int, error) {
	var stock int
	err := u.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock_quantity`, productID, delta).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound(productID)
	}
	if err != nil {
		return 0, classify(err)
	}
	return stock, nil
}

func (u *pgUnit) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, organization_id, customer_id, operator_id, event_id,
			transaction_type, total_amount, payment_method, notes, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.OrganizationID, t.CustomerID, t.OperatorID, nullString(t.EventID),
		t.Type, t.TotalAmount, t.PaymentMethod, t.Notes, t.BalanceAfter, t.CreatedAt,
	)
	if err != nil {
		return classify(err)
	}

	for _, item := range t.Items {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, line_no, product_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, item.LineNo, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal,
		)
		if err != nil {
			return classify(err)
		}
	}

	return nil
}

func (u *pgUnit) InsertCustomer(ctx context.Context, c *models.Customer) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO customers (id, organization_id, event_id, full_name, scan_token,
			current_balance, total_spent, is_active, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OrganizationID, nullString(c.EventID), c.FullName, c.ScanToken,
		c.Balance, c.TotalSpent, c.IsActive, c.RegisteredAt,
	)

	// A clashing scan token is retried with a fresh one.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrConflict(err)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (u *pgUnit) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE customers
		SET full_name = $2, event_id = $3, is_active = $4
		WHERE id = $1`, c.ID, c.FullName, nullString(c.EventID), c.IsActive)
	if err != nil {
		return classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrCustomerNotFound(c.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c            models.Customer
		lastActivity sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.EventID, &c.FullName, &c.ScanToken,
		&c.Balance, &c.TotalSpent, &c.IsActive, &c.RegisteredAt, &lastActivity,
	)
	if err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		c.LastActivityAt = &lastActivity.Time
	}
	return &c, nil
}

// classify maps driver errors onto ledger kinds. Errors that are already
// ledger errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConflict(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqCheckViolation:
			return ErrConflict(err)
		}
	}

	return ErrStoreUnavailable(err)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
