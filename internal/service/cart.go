package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/platform/observability"
)

// CartService корзина покупателя. Остатки здесь не резервируются, только на prepare.
type CartService struct {
	logger  *zap.Logger
	carts   repository.CartRepository
	catalog repository.CatalogRepository
}

// NewCartService создаёт CartService
func NewCartService(logger *zap.Logger, carts repository.CartRepository, catalog repository.CatalogRepository) *CartService {
	return &CartService{logger: logger, carts: carts, catalog: catalog}
}

// AddProductInput входные данные добавления товара
type AddProductInput struct {
	// CartID пустой: создаётся новая корзина
	CartID     string
	CustomerID int64
	SKU        string
	Quantity   int
}

// AddProduct добавляет товар в корзину по текущей цене каталога.
// Если sku уже есть в корзине, количество суммируется.
func (s *CartService) AddProduct(ctx context.Context, in AddProductInput) (repository.Cart, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return repository.Cart{}, ErrInvalidSKU
	}
	if in.Quantity <= 0 {
		return repository.Cart{}, ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, sku)
	if err != nil {
		return repository.Cart{}, fmt.Errorf("get product %s: %w", sku, err)
	}
	if !product.IsActive {
		return repository.Cart{}, ErrProductUnavailable
	}

	cart, err := s.ensureCart(ctx, in.CartID, in.CustomerID)
	if err != nil {
		return repository.Cart{}, err
	}
	if cart.Status != repository.CartActive {
		return repository.Cart{}, ErrCartNotActive
	}

	qty := in.Quantity
	for _, it := range cart.Items {
		if it.SKU == sku {
			qty += it.Quantity
			break
		}
	}
	item := repository.CartItem{SKU: sku, Name: product.Name, Quantity: qty, UnitPrice: product.Price}
	if err := s.carts.SaveItem(ctx, cart.ID, item); err != nil {
		return repository.Cart{}, fmt.Errorf("save cart item: %w", err)
	}

	observability.L(ctx, s.logger).Debug("product added to cart",
		zap.String("cart_id", cart.ID), zap.String("sku", sku), zap.Int("quantity", qty))
	return s.carts.GetCart(ctx, cart.ID)
}

// RemoveProduct уменьшает количество sku на quantity; при quantity <= 0 строка удаляется целиком
func (s *CartService) RemoveProduct(ctx context.Context, cartID, sku string, quantity int) (repository.Cart, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return repository.Cart{}, fmt.Errorf("get cart %s: %w", cartID, err)
	}
	if cart.Status != repository.CartActive {
		return repository.Cart{}, ErrCartNotActive
	}

	var line *repository.CartItem
	for i := range cart.Items {
		if cart.Items[i].SKU == sku {
			line = &cart.Items[i]
			break
		}
	}
	if line == nil {
		return repository.Cart{}, ErrItemNotInCart
	}

	if quantity <= 0 || quantity >= line.Quantity {
		err = s.carts.DeleteItem(ctx, cartID, sku)
	} else {
		updated := *line
		updated.Quantity -= quantity
		err = s.carts.SaveItem(ctx, cartID, updated)
	}
	if err != nil {
		return repository.Cart{}, fmt.Errorf("update cart item: %w", err)
	}
	return s.carts.GetCart(ctx, cartID)
}

func (s *CartService) GetCart(ctx context.Context, cartID string) (repository.Cart, error) {
	return s.carts.GetCart(ctx, cartID)
}

func (s *CartService) ensureCart(ctx context.Context, cartID string, customerID int64) (repository.Cart, error) {
	if cartID != "" {
		cart, err := s.carts.GetCart(ctx, cartID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrCartNotFound) {
			return repository.Cart{}, fmt.Errorf("get cart %s: %w", cartID, err)
		}
	} else {
		cartID = uuid.NewString()
	}

	cart := repository.Cart{ID: cartID, CustomerID: customerID, Status: repository.CartActive}
	if err := s.carts.CreateCart(ctx, cart); err != nil {
		return repository.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	return s.carts.GetCart(ctx, cartID)
}
