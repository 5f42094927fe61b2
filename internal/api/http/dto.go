package httpapi

import (
	"time"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
)

type prepareRequest struct {
	CartID string `json:"cart_id" validate:"required"`
}

type prepareResponse struct {
	SessionID       string    `json:"session_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	RedirectURL     string    `json:"redirect_url"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type finalizeRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	CartID          string `json:"cart_id" validate:"required"`
	CustomerID      int64  `json:"customer_id" validate:"gte=0"`
}

type finalizeResponse struct {
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         string `json:"total"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
}

type cancelRequest struct {
	CartID string `json:"cart_id" validate:"required"`
}

type addToCartRequest struct {
	CartID     string `json:"cart_id"`
	CustomerID int64  `json:"customer_id" validate:"gte=0"`
	SKU        string `json:"sku" validate:"required,max=64"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

type removeFromCartRequest struct {
	CartID   string `json:"cart_id" validate:"required"`
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type createItemRequest struct {
	SKU               string `json:"sku" validate:"required,max=64"`
	Quantity          int    `json:"quantity" validate:"gte=0"`
	LowStockThreshold int    `json:"low_stock_threshold" validate:"gte=0"`
}

type adjustStockRequest struct {
	SKU   string `json:"sku" validate:"required"`
	Delta int    `json:"delta" validate:"ne=0"`
}

type setStockRequest struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type cartItemResponse struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type cartResponse struct {
	CartID     string             `json:"cart_id"`
	CustomerID int64              `json:"customer_id,omitempty"`
	Status     string             `json:"status"`
	Items      []cartItemResponse `json:"items"`
	Total      string             `json:"total"`
}

func toCartResponse(c repository.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemResponse{
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}
	return cartResponse{
		CartID:     c.ID,
		CustomerID: c.CustomerID,
		Status:     string(c.Status),
		Items:      items,
		Total:      c.Total().StringFixed(2),
	}
}

type itemResponse struct {
	SKU               string    `json:"sku"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	Available         int       `json:"available"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	LowStock          bool      `json:"low_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toItemResponse(i repository.InventoryItem) itemResponse {
	return itemResponse{
		SKU:               i.SKU,
		Quantity:          i.Quantity,
		ReservedQuantity:  i.ReservedQuantity,
		Available:         i.Available(),
		LowStockThreshold: i.LowStockThreshold,
		LowStock:          i.IsLowStock(),
		UpdatedAt:         i.UpdatedAt,
	}
}

type inventoryListResponse struct {
	Inventory []itemResponse `json:"inventory"`
}

func toInventoryList(items []repository.InventoryItem) inventoryListResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	return inventoryListResponse{Inventory: out}
}

type availabilityResponse struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}

type reservationResponse struct {
	ReservationID   string     `json:"reservation_id"`
	SKU             string     `json:"sku"`
	Quantity        int        `json:"quantity"`
	CartID          string     `json:"cart_id"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func toReservationResponse(r repository.StockReservation) reservationResponse {
	return reservationResponse{
		ReservationID:   r.ID,
		SKU:             r.SKU,
		Quantity:        r.Quantity,
		CartID:          r.CartID,
		PaymentIntentID: r.PaymentIntentID,
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		ResolvedAt:      r.ResolvedAt,
	}
}

type orderItemResponse struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Subtotal string `json:"subtotal"`
}

type orderResponse struct {
	OrderNumber     string              `json:"order_number"`
	CustomerID      int64               `json:"customer_id"`
	CartID          string              `json:"cart_id"`
	PaymentIntentID string              `json:"payment_intent_id"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
	Subtotal        string              `json:"subtotal"`
	Tax             string              `json:"tax"`
	Total           string              `json:"total"`
	ReceiptURL      string              `json:"receipt_url,omitempty"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	PaidAt          time.Time           `json:"paid_at"`
}

func toOrderResponse(o repository.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			SKU:      it.SKU,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price.StringFixed(2),
			Subtotal: it.Subtotal.StringFixed(2),
		})
	}
	return orderResponse{
		OrderNumber:     o.Number,
		CustomerID:      o.CustomerID,
		CartID:          o.CartID,
		PaymentIntentID: o.PaymentIntentID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		Subtotal:        o.Subtotal.StringFixed(2),
		Tax:             o.Tax.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		ReceiptURL:      o.ReceiptURL,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		PaidAt:          o.PaidAt,
	}
}

func toFinalizeResponse(out *service.FinalizeOutput) finalizeResponse {
	return finalizeResponse{
		OrderNumber:   out.OrderNumber,
		Status:        out.Status,
		PaymentStatus: out.PaymentStatus,
		Total:         out.Total.StringFixed(2),
		ReceiptURL:    out.ReceiptURL,
	}
}
