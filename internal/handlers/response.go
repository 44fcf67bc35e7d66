package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/ledger"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    string            `json:"kind"`              // Machine-readable error kind
	Details map[string]string `json:"details,omitempty"` // Structured context
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message, kind string, statusCode int, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind, Details: details})
}

func sendValidationError(w http.ResponseWriter, err error) {
	details := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", fe.Tag())
		}
	}
	SendErrorResponse(w, "Validation failed", string(ledger.KindInvalidRequest), http.StatusBadRequest, details)
}

// sendLedgerError translates an engine error into its HTTP status and body.
func sendLedgerError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		logger.Error("unclassified error", zap.Error(err))
		SendErrorResponse(w, "Service unavailable", string(ledger.KindStoreUnavailable), http.StatusServiceUnavailable, nil)
		return
	}

	status := statusFor(le.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("kind", string(le.Kind)), zap.Error(err))
	}

	message := le.Error()
	if le.Kind == ledger.KindStoreUnavailable {
		message = "Service unavailable"
	}
	SendErrorResponse(w, message, string(le.Kind), status, errorDetails(le))
}

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindCustomerNotFound, ledger.KindProductNotFound, ledger.KindTransactionNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientStock, ledger.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ledger.KindInvalidAmount, ledger.KindInvalidRequest:
		return http.StatusBadRequest
	case ledger.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func errorDetails(le *ledger.Error) map[string]string {
	d := make(map[string]string)
	if le.CustomerID != "" {
		d["customerId"] = le.CustomerID
	}
	if le.ProductID != "" {
		d["productId"] = le.ProductID
	}
	if le.TransactionID != "" {
		d["transactionId"] = le.TransactionID
	}
	if le.Field != "" {
		d["field"] = le.Field
	}

	switch le.Kind {
	case ledger.KindInsufficientStock:
		d["requested"] = fmt.Sprint(le.Requested)
		d["available"] = fmt.Sprint(le.Available)
	case ledger.KindInsufficientBalance:
		d["required"] = le.Required.String()
		d["available"] = le.Balance.String()
	case ledger.KindInvalidAmount:
		d["amount"] = le.Amount.String()
	case ledger.KindConflict:
		d["retryable"] = "true"
	}

	if len(d) == 0 {
		return nil
	}
	return d
}

// decodeJSON reads exactly one JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body: "+err.Error(), string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
