package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/middleware"
	"github.com/eventpay/backend/internal/models"
	"github.com/eventpay/backend/internal/services"
)

type PurchaseLine struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type PurchaseBody struct {
	CustomerID    string         `json:"customerId" validate:"required,uuid"`
	EventID       string         `json:"eventId,omitempty" validate:"omitempty,uuid"`
	Items         []PurchaseLine `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string         `json:"paymentMethod,omitempty" validate:"omitempty,oneof=balance cash card"`
	Notes         string         `json:"notes,omitempty" validate:"max=500"`
}

// TransactionResponse is returned for every committed purchase or top-up.
type TransactionResponse struct {
	Success     bool                `json:"success"`
	Transaction *models.Transaction `json:"transaction"`
	Balance     models.Money        `json:"balance"`
}

type TransactionHandler struct {
	engine    *services.TransactionEngine
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewTransactionHandler(engine *services.TransactionEngine, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		engine:    engine,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

// Purchase charges a basket to a customer
// @Summary Create purchase
// @Description Validate, price and charge a basket in one unit of work
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PurchaseBody true "Purchase request"
// @Success 201 {object} TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transactions [post]
func (h *TransactionHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	var body PurchaseBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		sendValidationError(w, err)
		return
	}

	lines := make([]services.LineRequest, 0, len(body.Items))
	for _, item := range body.Items {
		lines = append(lines, services.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := h.engine.Purchase(r.Context(), services.PurchaseRequest{
		CustomerID:     body.CustomerID,
		OperatorID:     principal.UserID,
		OrganizationID: principal.OrganizationID,
		EventID:        body.EventID,
		Items:          lines,
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

// GetTransaction returns one committed transaction
// @Summary Get transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	tx, err := h.engine.Transaction(r.Context(), principal.OrganizationID, chi.URLParam(r, "txId"))
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// DailyStats aggregates one day of activity
// @Summary Daily statistics
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param date query string false "Day as YYYY-MM-DD, defaults to today"
// @Success 200 {object} models.DailyStats
// @Failure 400 {object} ErrorResponse
// @Router /transactions/stats/daily [get]
func (h *TransactionHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return
	}

	stats, err := h.engine.DailyStats(r.Context(), principal.OrganizationID, r.URL.Query().Get("date"))
	if err != nil {
		sendLedgerError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Routes mounts the transaction endpoints, each behind its own permission.
func (h *TransactionHandler) Routes(r chi.Router) {
	r.With(middleware.Require(middleware.PermViewStats, h.logger)).Get("/stats/daily", h.DailyStats)
	r.With(middleware.Require(middleware.PermPurchase, h.logger)).Post("/", h.Purchase)
	r.With(middleware.Require(middleware.PermViewTransactions, h.logger)).Get("/{txId}", h.GetTransaction)
}
