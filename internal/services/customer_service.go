package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

const (
	DefaultQRSize = 256
	MaxQRSize     = 1024

	maxFullNameLength = 255
)

type CreateCustomerRequest struct {
	OrganizationID string
	OperatorID     string
	EventID        string
	FullName       string
	InitialBalance models.Money
	PaymentMethod  models.PaymentMethod
	Notes          string
}

// CustomerUpdate lists the profile fields to change. Nil fields are kept.
type CustomerUpdate struct {
	FullName *string
	EventID  *string
	IsActive *bool
}

// Registration is a new customer plus the top_up that funded it, if any.
type Registration struct {
	Customer *models.Customer
	Opening  *models.Transaction
}

// CustomerService registers customers, edits their profiles and resolves
// them from what operators scan at the till.
type CustomerService struct {
	store    ledger.Store
	balance  BalanceGuard
	logger   *zap.Logger
	retry    RetryPolicy
	now      func() time.Time
	newID    func() string
	newToken func() string
	onCommit func(ctx context.Context, tx *models.Transaction)
}

type CustomerOption func(*CustomerService)

// WithCommitHook is called with every transaction the service commits.
func WithCommitHook(fn func(ctx context.Context, tx *models.Transaction)) CustomerOption {
	return func(s *CustomerService) { s.onCommit = fn }
}

func WithCustomerLogger(l *zap.Logger) CustomerOption {
	return func(s *CustomerService) { s.logger = l }
}

func WithCustomerRetryPolicy(p RetryPolicy) CustomerOption {
	return func(s *CustomerService) { s.retry = p }
}

func WithCustomerClock(now func() time.Time) CustomerOption {
	return func(s *CustomerService) { s.now = now }
}

func WithCustomerIDGenerator(newID func() string) CustomerOption {
	return func(s *CustomerService) { s.newID = newID }
}

func WithTokenGenerator(newToken func() string) CustomerOption {
	return func(s *CustomerService) { s.newToken = newToken }
}

func NewCustomerService(store ledger.Store, opts ...CustomerOption) *CustomerService {
	s := &CustomerService{
		store:    store,
		logger:   zap.NewNop(),
		retry:    DefaultRetryPolicy(),
		now:      time.Now,
		newID:    uuid.NewString,
		newToken: newScanToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newScanToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateCustomer registers an active customer with a freshly issued scan
// token. A positive opening balance is credited in the same unit of work and
// recorded as a top_up.
func (s *CustomerService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Registration, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if req.InitialBalance > 0 && req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}
	if err := validateCreateCustomer(req); err != nil {
		return nil, err
	}

	openingID := s.newID()

	var reg *Registration
	err := s.retry.Do(ctx, s.logger, "create_customer", func() error {
		// Fresh id and token per attempt; a clash comes back as a Conflict.
		customer := &models.Customer{
			ID:             s.newID(),
			OrganizationID: req.OrganizationID,
			EventID:        req.EventID,
			FullName:       req.FullName,
			ScanToken:      s.newToken(),
			IsActive:       true,
			RegisteredAt:   s.now().UTC(),
		}

		return s.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
			if err := uow.InsertCustomer(ctx, customer); err != nil {
				return err
			}

			r := &Registration{Customer: customer}
			if req.InitialBalance > 0 {
				opening, err := s.fund(ctx, uow, openingID, customer, req)
				if err != nil {
					return err
				}
				r.Opening = opening
			}

			reg = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer registered",
		zap.String("customer_id", reg.Customer.ID),
		zap.String("organization_id", reg.Customer.OrganizationID),
		zap.Stringer("balance", reg.Customer.Balance),
	)
	if reg.Opening != nil && s.onCommit != nil {
		s.onCommit(ctx, reg.Opening)
	}

	return reg, nil
}

func (s *CustomerService) fund(ctx context.Context, uow ledger.UnitOfWork, txID string, customer *models.Customer, req CreateCustomerRequest) (*models.Transaction, error) {
	expected, err := s.balance.Credit(customer.Balance, req.InitialBalance)
	if err != nil {
		return nil, err
	}

	balance, err := uow.ApplyBalanceDelta(ctx, customer.ID, req.InitialBalance)
	if err != nil {
		return nil, err
	}
	if err := s.balance.Confirm(customer.ID, expected, balance); err != nil {
		return nil, err
	}
	customer.Balance = balance
	customer.LastActivityAt = &customer.RegisteredAt

	tx := &models.Transaction{
		ID:             txID,
		OrganizationID: customer.OrganizationID,
		CustomerID:     customer.ID,
		OperatorID:     req.OperatorID,
		EventID:        customer.EventID,
		Type:           models.TransactionTypeTopUp,
		TotalAmount:    req.InitialBalance,
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		BalanceAfter:   balance,
		CreatedAt:      customer.RegisteredAt,
		Items:          []models.TransactionItem{},
	}
	if err := uow.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Customer returns a customer of the organization, active or not.
func (s *CustomerService) Customer(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	return s.store.Customer(ctx, orgID, customerID)
}

// UpdateCustomer edits a customer's profile under its row lock.
func (s *CustomerService) UpdateCustomer(ctx context.Context, orgID, customerID string, upd CustomerUpdate) (*models.Customer, error) {
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" || len(name) > maxFullNameLength {
			return nil, ledger.ErrInvalidRequest("fullName", fmt.Errorf("must be 1 to %d characters", maxFullNameLength))
		}
		upd.FullName = &name
	}
	if upd.EventID != nil && *upd.EventID != "" {
		if _, err := uuid.Parse(*upd.EventID); err != nil {
			return nil, ledger.ErrInvalidRequest("eventId", err)
		}
	}

	var updated *models.Customer
	err := s.retry.Do(ctx, s.logger, "update_customer", func() error {
		return s.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
			customer, err := uow.CustomerForUpdate(ctx, orgID, customerID)
			if err != nil {
				return err
			}

			if upd.FullName != nil {
				customer.FullName = *upd.FullName
			}
			if upd.EventID != nil {
				customer.EventID = *upd.EventID
			}
			if upd.IsActive != nil {
				customer.IsActive = *upd.IsActive
			}

			if err := uow.UpdateCustomer(ctx, customer); err != nil {
				return err
			}
			updated = customer
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer updated",
		zap.String("customer_id", updated.ID),
		zap.Bool("is_active", updated.IsActive),
	)
	return updated, nil
}

// DeactivateCustomer soft-deletes a customer. Its row and history stay; it
// can no longer be scanned, charged or topped up.
func (s *CustomerService) DeactivateCustomer(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	inactive := false
	return s.UpdateCustomer(ctx, orgID, customerID, CustomerUpdate{IsActive: &inactive})
}

// ResolveScanToken returns the active customer holding token.
func (s *CustomerService) ResolveScanToken(ctx context.Context, orgID, token string) (*models.Customer, error) {
	if token == "" {
		return nil, ledger.ErrInvalidRequest("token", fmt.Errorf("required"))
	}

	customer, err := s.store.CustomerByScanToken(ctx, orgID, token)
	if err != nil {
		return nil, err
	}
	if !customer.IsActive {
		return nil, ledger.ErrCustomerNotFound(token)
	}
	return customer, nil
}

// QRCode renders the customer's scan token as a PNG image.
func (s *CustomerService) QRCode(ctx context.Context, orgID, customerID string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	if size > MaxQRSize {
		return nil, ledger.ErrInvalidRequest("size", fmt.Errorf("must be at most %d", MaxQRSize))
	}

	customer, err := s.store.Customer(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.IsActive {
		return nil, ledger.ErrCustomerNotFound(customerID)
	}

	qr, err := qrcode.New(customer.ScanToken, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(size)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return buf.Bytes(), nil
}

func validateCreateCustomer(req CreateCustomerRequest) error {
	if req.OrganizationID == "" {
		return ledger.ErrInvalidRequest("organizationId", fmt.Errorf("required"))
	}
	if req.OperatorID == "" {
		return ledger.ErrInvalidRequest("operatorId", fmt.Errorf("required"))
	}
	if req.FullName == "" || len(req.FullName) > maxFullNameLength {
		return ledger.ErrInvalidRequest("fullName", fmt.Errorf("must be 1 to %d characters", maxFullNameLength))
	}
	if req.EventID != "" {
		if _, err := uuid.Parse(req.EventID); err != nil {
			return ledger.ErrInvalidRequest("eventId", err)
		}
	}
	if req.InitialBalance < 0 {
		return ledger.ErrInvalidAmount(req.InitialBalance, fmt.Errorf("opening balance must not be negative"))
	}
	if req.InitialBalance > 0 && (!req.PaymentMethod.Valid() || req.PaymentMethod.UsesBalance()) {
		return ledger.ErrInvalidRequest("paymentMethod", fmt.Errorf("opening balances must be paid in cash or card, got %q", req.PaymentMethod))
	}
	return nil
}
