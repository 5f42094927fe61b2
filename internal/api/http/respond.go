package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
	"github.com/rinta-toyoda/retailer-agent-project/platform/observability"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	SKU     string            `json:"sku,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// validationError ошибка разбора или валидации запроса
type validationError struct {
	msg    string
	fields map[string]string
}

func (e *validationError) Error() string { return e.msg }

func newValidator() *validator.Validate {
	v := validator.New()
	// в сообщениях об ошибках используем имена из json-тегов
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode читает JSON тело и валидирует его по тегам validate
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &validationError{msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fieldMessage(fe)
			}
			return &validationError{msg: "validation failed", fields: fields}
		}
		return &validationError{msg: err.Error()}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "ne":
		return fmt.Sprintf("%s must not be %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError единственное место, где ошибки превращаются в HTTP статусы
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observability.L(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		verr     *validationError
		stockErr *repository.InsufficientStockError
		declined *service.PaymentDeclinedError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: verr.msg, Fields: verr.fields}
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrInvalidSKU):
		return http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()}
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusBadRequest, errorResponse{Error: "empty_cart", Message: "cart is empty"}

	case errors.As(err, &stockErr):
		return http.StatusConflict, errorResponse{
			Error:   "insufficient_stock",
			Message: fmt.Sprintf("insufficient stock for %s: requested %d, available %d", stockErr.SKU, stockErr.Requested, stockErr.Available),
			SKU:     stockErr.SKU,
		}
	case errors.Is(err, service.ErrStaleReservation):
		return http.StatusConflict, errorResponse{Error: "stale_reservation", Message: service.ErrStaleReservation.Error()}
	case errors.Is(err, service.ErrCheckoutInProgress):
		return http.StatusConflict, errorResponse{Error: "checkout_in_progress", Message: "checkout is already being finalized, retry shortly"}
	case errors.Is(err, service.ErrCartNotActive):
		return http.StatusConflict, errorResponse{Error: "cart_not_active", Message: "cart is not active"}
	case errors.Is(err, repository.ErrInvalidAdjustment):
		return http.StatusConflict, errorResponse{Error: "invalid_adjustment", Message: "quantity cannot go below reserved quantity"}
	case errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{Error: "already_exists", Message: err.Error()}
	case errors.Is(err, repository.ErrAlreadyResolved):
		return http.StatusConflict, errorResponse{Error: "reservation_already_resolved", Message: err.Error()}
	case errors.Is(err, service.ErrProductUnavailable):
		return http.StatusConflict, errorResponse{Error: "product_unavailable", Message: err.Error()}

	case errors.Is(err, service.ErrCustomerMismatch):
		return http.StatusForbidden, errorResponse{Error: "customer_mismatch", Message: "cart belongs to another customer"}

	case errors.Is(err, service.ErrCartNotFound):
		return http.StatusNotFound, errorResponse{Error: "cart_not_found", Message: "cart not found"}
	case errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "order_not_found", Message: "order not found"}
	case errors.Is(err, repository.ErrProductNotFound):
		return http.StatusNotFound, errorResponse{Error: "product_not_found", Message: "product not found"}
	case errors.Is(err, repository.ErrReservationNotFound):
		return http.StatusNotFound, errorResponse{Error: "reservation_not_found", Message: "reservation not found"}
	case errors.Is(err, service.ErrItemNotInCart):
		return http.StatusNotFound, errorResponse{Error: "item_not_in_cart", Message: "item is not in cart"}
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not_found", Message: "inventory item not found"}

	case errors.As(err, &declined):
		return http.StatusUnprocessableEntity, errorResponse{Error: "payment_declined", Message: declined.Message, Reason: declined.Reason}
	case errors.Is(err, service.ErrPaymentGatewayTimeout):
		return http.StatusUnprocessableEntity, errorResponse{
			Error:   "payment_declined",
			Message: "payment gateway did not respond in time, please try again",
			Reason:  "gateway_timeout",
		}
	case errors.Is(err, service.ErrPaymentGatewayUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "payment_unavailable", Message: "payment gateway is unavailable"}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"}
}
