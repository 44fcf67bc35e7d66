package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/middleware"
	"github.com/eventpay/backend/internal/models"
	"github.com/eventpay/backend/internal/services"
)

// TopUpBody leaves amount checks to the engine so a non-positive amount
// surfaces as INVALID_AMOUNT.
type TopUpBody struct {
	Amount        models.Money `json:"amount"`
	PaymentMethod string       `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash card"`
	Notes         string       `json:"notes,omitempty" validate:"max=500"`
}

type CreateCustomerBody struct {
	FullName       string       `json:"fullName" validate:"required,max=255"`
	EventID        string       `json:"eventId,omitempty" validate:"omitempty,uuid"`
	InitialBalance models.Money `json:"initialBalance"`
	PaymentMethod  string       `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash card"`
	Notes          string       `json:"notes,omitempty" validate:"max=500"`
}

// UpdateCustomerBody changes only the fields that are present.
type UpdateCustomerBody struct {
	FullName *string `json:"fullName,omitempty" validate:"omitempty,max=255"`
	EventID  *string `json:"eventId,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// CustomerResponse carries the opening top_up only when a new customer was funded.
type CustomerResponse struct {
	Success  bool                `json:"success"`
	Customer *models.Customer    `json:"customer"`
	Opening  *models.Transaction `json:"openingTransaction,omitempty"`
}

type ScanResponse struct {
	Success  bool             `json:"success"`
	Customer *models.Customer `json:"customer"`
}

type CustomerHandler struct {
	engine    *services.TransactionEngine
	customers *services.CustomerService
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewCustomerHandler(engine *services.TransactionEngine, customers *services.CustomerService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		engine:    engine,
		customers: customers,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

// TopUp credits a customer's balance
// @Summary Top up balance
// @Tags Customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Customer ID"
// @Param request body TopUpBody true "Top-up request"
// @Success 201 {object} TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /customers/{id}/top-up [post]
func (h *CustomerHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	var body TopUpBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		sendValidationError(w, err)
		return
	}

	result, err := h.engine.TopUp(r.Context(), services.TopUpRequest{
		CustomerID:     chi.URLParam(r, "id"),
		OperatorID:     principal.UserID,
		OrganizationID: principal.OrganizationID,
		Amount:         body.Amount,
		PaymentMethod:  models.PaymentMethod(body.PaymentMethod),
		Notes:          body.Notes,
	})
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, TransactionResponse{
		Success:     true,
		Transaction: result.Transaction,
		Balance:     result.Balance,
	})
}

// Scan resolves a scanned token to its customer
// @Summary Resolve scan token
// @Tags Customers
// @Produce json
// @Security BearerAuth
// @Param token path string true "Scan token"
// @Success 200 {object} ScanResponse
// @Failure 404 {object} ErrorResponse
// @Router /customers/scan/{token} [get]
func (h *CustomerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	customer, err := h.customers.ResolveScanToken(r.Context(), principal.OrganizationID, chi.URLParam(r, "token"))
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ScanResponse{Success: true, Customer: customer})
}

// QRCode renders the customer's scan token
// @Summary Customer QR code
// @Tags Customers
// @Produce png
// @Security BearerAuth
// @Param id path string true "Customer ID"
// @Param size query int false "Image size in pixels"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /customers/{id}/qr [get]
func (h *CustomerHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			sendLedgerError(w, h.logger, ledger.ErrInvalidRequest("size", err))
			return
		}
		size = n
	}

	img, err := h.customers.QRCode(r.Context(), principal.OrganizationID, chi.URLParam(r, "id"), size)
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// Create registers a customer and issues its scan token
// @Summary Register customer
// @Tags Customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateCustomerBody true "Customer"
// @Success 201 {object} CustomerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /customers [post]
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	var body CreateCustomerBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		sendValidationError(w, err)
		return
	}

	reg, err := h.customers.CreateCustomer(r.Context(), services.CreateCustomerRequest{
		OrganizationID: principal.OrganizationID,
		OperatorID:     principal.UserID,
		EventID:        body.EventID,
		FullName:       body.FullName,
		InitialBalance: body.InitialBalance,
		PaymentMethod:  models.PaymentMethod(body.PaymentMethod),
		Notes:          body.Notes,
	})
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, CustomerResponse{Success: true, Customer: reg.Customer, Opening: reg.Opening})
}

// Get returns a customer, active or not
// @Summary Get customer
// @Tags Customers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Customer ID"
// @Success 200 {object} CustomerResponse
// @Failure 404 {object} ErrorResponse
// @Router /customers/{id} [get]
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	customer, err := h.customers.Customer(r.Context(), principal.OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerResponse{Success: true, Customer: customer})
}

// Update edits a customer's profile
// @Summary Update customer
// @Tags Customers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Customer ID"
// @Param request body UpdateCustomerBody true "Fields to change"
// @Success 200 {object} CustomerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /customers/{id} [put]
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	var body UpdateCustomerBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		sendValidationError(w, err)
		return
	}

	customer, err := h.customers.UpdateCustomer(r.Context(), principal.OrganizationID, chi.URLParam(r, "id"), services.CustomerUpdate{
		FullName: body.FullName,
		EventID:  body.EventID,
		IsActive: body.IsActive,
	})
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerResponse{Success: true, Customer: customer})
}

// Deactivate soft-deletes a customer
// @Summary Deactivate customer
// @Tags Customers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Customer ID"
// @Success 200 {object} CustomerResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /customers/{id} [delete]
func (h *CustomerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	customer, err := h.customers.DeactivateCustomer(r.Context(), principal.OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerResponse{Success: true, Customer: customer})
}

func (h *CustomerHandler) Routes(r chi.Router) {
	manage := middleware.Require(middleware.PermManageCustomers, h.logger)

	r.With(manage).Post("/", h.Create)
	r.With(middleware.Require(middleware.PermViewCustomers, h.logger)).Get("/{id}", h.Get)
	r.With(manage).Put("/{id}", h.Update)
	r.With(manage).Delete("/{id}", h.Deactivate)

	r.With(middleware.Require(middleware.PermScan, h.logger)).Get("/scan/{token}", h.Scan)
	r.With(middleware.Require(middleware.PermTopUp, h.logger)).Post("/{id}/top-up", h.TopUp)
	r.With(middleware.Require(middleware.PermScan, h.logger)).Get("/{id}/qr", h.QRCode)
}
