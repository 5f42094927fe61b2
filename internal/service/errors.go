package service

import (
	"errors"
	"fmt"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

var (
	// ErrInvalidQuantity количество должно быть положительным
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidSKU пустой sku
	ErrInvalidSKU = errors.New("sku is required")
	// ErrEmptyCart в корзине нет строк
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCartNotActive корзина уже оформлена
	ErrCartNotActive = errors.New("cart is not active")
	// ErrItemNotInCart в корзине нет такого sku
	ErrItemNotInCart = errors.New("item is not in cart")
	// ErrProductUnavailable товар снят с продажи
	ErrProductUnavailable = errors.New("product is not available")
	// ErrStaleReservation резервы истекли или не соответствуют корзине, нужно заново пройти prepare
	ErrStaleReservation = errors.New("checkout reservations are stale, prepare checkout again")
	// ErrCheckoutInProgress резервы уже зафиксировал параллельный finalize, заказ ещё не сохранён
	ErrCheckoutInProgress = errors.New("checkout is already being finalized")
	// ErrCustomerMismatch customer_id не совпадает с владельцем корзины
	ErrCustomerMismatch = errors.New("customer does not own the cart")
	// ErrPaymentDeclined оплата отклонена
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentGatewayTimeout шлюз не ответил за PAYMENT_TIMEOUT
	ErrPaymentGatewayTimeout = errors.New("payment gateway timeout")
	// ErrPaymentGatewayUnavailable шлюз вернул ошибку или circuit breaker открыт
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrCartNotFound и ErrReservationAlreadyResolved пробрасываются из хранилища
	ErrCartNotFound               = repository.ErrCartNotFound
	ErrReservationAlreadyResolved = repository.ErrAlreadyResolved
)

// PaymentDeclinedError причина отказа от шлюза (например card_declined)
type PaymentDeclinedError struct {
	Reason  string
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

func (e *PaymentDeclinedError) Unwrap() error {
	return ErrPaymentDeclined
}
