package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
)

// Handler HTTP-обработчики storefront. Вся логика в service слое.
type Handler struct {
	logger    *zap.Logger
	checkout  *service.CheckoutService
	carts     *service.CartService
	inventory *service.InventoryService
	validate  *validator.Validate
}

func NewHandler(
	logger *zap.Logger,
	checkout *service.CheckoutService,
	carts *service.CartService,
	inventory *service.InventoryService,
) *Handler {
	return &Handler{
		logger:    logger,
		checkout:  checkout,
		carts:     carts,
		inventory: inventory,
		validate:  newValidator(),
	}
}

// ---- checkout ----

// PostCheckoutPrepare POST /checkout/prepare
func (h *Handler) PostCheckoutPrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.checkout.Prepare(r.Context(), req.CartID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{
		SessionID:       out.SessionID,
		PaymentIntentID: out.PaymentIntentID,
		RedirectURL:     out.RedirectURL,
		ExpiresAt:       out.ExpiresAt,
	})
}

// PostCheckoutFinalize POST /checkout/finalize
func (h *Handler) PostCheckoutFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.checkout.Finalize(r.Context(), service.FinalizeInput{
		PaymentIntentID: req.PaymentIntentID,
		CartID:          req.CartID,
		CustomerID:      req.CustomerID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFinalizeResponse(out))
}

// PostCheckoutCancel POST /checkout/cancel
func (h *Handler) PostCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.checkout.Cancel(r.Context(), req.CartID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

// GetOrder GET /orders/{order_number}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetOrder(r.Context(), chi.URLParam(r, "order_number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ---- cart ----

// PostCartAdd POST /cart/add
func (h *Handler) PostCartAdd(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.carts.AddProduct(r.Context(), service.AddProductInput{
		CartID:     req.CartID,
		CustomerID: req.CustomerID,
		SKU:        req.SKU,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// PostCartRemove POST /cart/remove; quantity 0 удаляет строку целиком
func (h *Handler) PostCartRemove(w http.ResponseWriter, r *http.Request) {
	var req removeFromCartRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.carts.RemoveProduct(r.Context(), req.CartID, req.SKU, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// GetCart GET /cart/{cart_id}
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), chi.URLParam(r, "cart_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// ---- inventory ----

// GetAvailability GET /inventory/{sku}
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	available, err := h.inventory.Available(r.Context(), sku)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{SKU: sku, Available: available})
}

// PostAdminInventory POST /admin/inventory
func (h *Handler) PostAdminInventory(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.inventory.CreateItem(r.Context(), req.SKU, req.Quantity, req.LowStockThreshold)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// PostAdminStock POST /admin/stock
func (h *Handler) PostAdminStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.inventory.Adjust(r.Context(), req.SKU, req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// PostAdminStockSet POST /admin/stock/set
func (h *Handler) PostAdminStockSet(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.inventory.SetStock(r.Context(), req.SKU, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// GetAdminInventory GET /admin/inventory
func (h *Handler) GetAdminInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListItems(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryList(items))
}

// GetAdminLowStock GET /admin/inventory/low-stock
func (h *Handler) GetAdminLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListLowStock(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryList(items))
}

// GetAdminReservation GET /admin/reservations/{reservation_id}
func (h *Handler) GetAdminReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.inventory.GetReservation(r.Context(), chi.URLParam(r, "reservation_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}
