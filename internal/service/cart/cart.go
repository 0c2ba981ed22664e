package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumosfitness/storefront/internal/cache"
	"github.com/lumosfitness/storefront/internal/models"
)

var (
	ErrProductUnavailable = errors.New("product not found or inactive")
	ErrItemNotFound       = errors.New("item not found in cart")
)

type InsufficientStockError struct {
	ProductID uint
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

type InvalidVariantError struct {
	Field   string
	Value   string
	Offered string
}

func (e *InvalidVariantError) Error() string {
	return fmt.Sprintf("%s %q not offered (available: %s)", e.Field, e.Value, e.Offered)
}

// Cart is the session-scoped view served to handlers and checkout. It
// is what both cache layers serialize.
type Cart struct {
	SessionID string            `json:"session_id"`
	Items     []models.CartItem `json:"items"`
	Total     float64           `json:"total"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Cache is the fast layer. internal/cache satisfies it with redis;
// tests plug in a map-backed fake.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Store resolves session ids to carts across the cache and the durable
// row, revalidating items against live product state on every read.
// Prices and stock drift between add-to-cart and checkout; re-checking
// here keeps the cart from offering stale or impossible combinations.
type Store struct {
	DB    *gorm.DB
	Cache Cache
}

func NewStore(db *gorm.DB, c Cache) *Store {
	return &Store{DB: db, Cache: c}
}

// Get returns the session's cart, falling back from cache to the
// durable row and re-populating the cache. Items whose product went
// inactive or out of stock are dropped; surviving items get current
// price and stock, with quantity clamped to what is available. A
// missing cart comes back empty, never as an error.
func (s *Store) Get(ctx context.Context, sessionID string) (*Cart, error) {
	crt := &Cart{SessionID: sessionID, Items: []models.CartItem{}}

	hit, err := s.Cache.Get(ctx, cache.CartKey(sessionID), crt)
	if err != nil {
		return nil, err
	}
	if !hit {
		var row models.Cart
		err := s.DB.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return crt, nil
		case err != nil:
			return nil, err
		}
		if row.Items != "" {
			if err := json.Unmarshal([]byte(row.Items), &crt.Items); err != nil {
				return nil, fmt.Errorf("cart %s: corrupt items payload: %w", sessionID, err)
			}
		}
		crt.Total = row.Total
		crt.UpdatedAt = row.UpdatedAt
	}

	if len(crt.Items) == 0 {
		return crt, nil
	}

	if err := s.revalidate(ctx, crt); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, crt); err != nil {
		return nil, err
	}
	return crt, nil
}

// AddItem merges a product variant into the cart. Re-adding the same
// (product, size, color) bumps the existing line instead of duplicating
// it; the cumulative quantity is checked against current stock.
func (s *Store) AddItem(ctx context.Context, sessionID string, productID uint, quantity int, size, color string) (*Cart, error) {
	if quantity < 1 {
		quantity = 1
	}

	var product models.Product
	err := s.DB.WithContext(ctx).First(&product, "id = ? AND active = ?", productID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductUnavailable
	}
	if err != nil {
		return nil, err
	}

	if !product.HasSize(size) {
		return nil, &InvalidVariantError{Field: "size", Value: size, Offered: product.Sizes}
	}
	if !product.HasColor(color) {
		return nil, &InvalidVariantError{Field: "color", Value: color, Offered: product.Colors}
	}
	if quantity > product.Stock {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: product.Stock}
	}

	crt, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	merged := false
	for i := range crt.Items {
		it := &crt.Items[i]
		if it.ProductID == productID && it.Size == size && it.Color == color {
			next := it.Quantity + quantity
			if next > product.Stock {
				return nil, &InsufficientStockError{ProductID: productID, Requested: next, Available: product.Stock}
			}
			it.Quantity = next
			it.Price = product.Price
			it.Subtotal = round2(float64(next) * product.Price)
			it.Stock = product.Stock
			merged = true
			break
		}
	}
	if !merged {
		crt.Items = append(crt.Items, models.CartItem{
			ID:        uuid.NewString(),
			ProductID: productID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  quantity,
			Size:      size,
			Color:     color,
			Subtotal:  round2(float64(quantity) * product.Price),
			Stock:     product.Stock,
			Image:     product.Image,
		})
	}

	recompute(crt)
	if err := s.persist(ctx, crt); err != nil {
		return nil, err
	}
	return crt, nil
}

// UpdateQuantity sets a line's quantity, re-checked against live stock.
func (s *Store) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, &InsufficientStockError{Requested: quantity}
	}

	crt, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range crt.Items {
		if crt.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	item := &crt.Items[idx]

	var product models.Product
	err = s.DB.WithContext(ctx).First(&product, "id = ? AND active = ?", item.ProductID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductUnavailable
	}
	if err != nil {
		return nil, err
	}
	if quantity > product.Stock {
		return nil, &InsufficientStockError{ProductID: item.ProductID, Requested: quantity, Available: product.Stock}
	}

	item.Quantity = quantity
	item.Subtotal = round2(float64(quantity) * item.Price)

	recompute(crt)
	if err := s.persist(ctx, crt); err != nil {
		return nil, err
	}
	return crt, nil
}

func (s *Store) RemoveItem(ctx context.Context, sessionID, itemID string) (*Cart, error) {
	crt, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	kept := crt.Items[:0]
	found := false
	for _, it := range crt.Items {
		if it.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, it)
	}
	if !found {
		return nil, ErrItemNotFound
	}
	crt.Items = kept

	recompute(crt)
	if err := s.persist(ctx, crt); err != nil {
		return nil, err
	}
	return crt, nil
}

// Clear drops the cart from both layers.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.Cache.Del(ctx, cache.CartKey(sessionID)); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Delete(&models.Cart{}, "session_id = ?", sessionID).Error
}

func (s *Store) revalidate(ctx context.Context, crt *Cart) error {
	ids := make([]uint, 0, len(crt.Items))
	for _, it := range crt.Items {
		ids = append(ids, it.ProductID)
	}

	var products []models.Product
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return err
	}
	byID := make(map[uint]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	kept := crt.Items[:0]
	for _, it := range crt.Items {
		p, ok := byID[it.ProductID]
		if !ok || !p.Active || p.Stock <= 0 {
			continue
		}
		it.Name = p.Name
		it.Price = p.Price
		it.Stock = p.Stock
		if it.Quantity > p.Stock {
			it.Quantity = p.Stock
		}
		it.Subtotal = round2(float64(it.Quantity) * p.Price)
		kept = append(kept, it)
	}
	crt.Items = kept

	recompute(crt)
	return nil
}

// persist writes through to both layers.
func (s *Store) persist(ctx context.Context, crt *Cart) error {
	crt.UpdatedAt = time.Now()

	if err := s.Cache.Set(ctx, cache.CartKey(crt.SessionID), crt, cache.CartTTL); err != nil {
		return err
	}

	payload, err := json.Marshal(crt.Items)
	if err != nil {
		return err
	}
	row := models.Cart{
		SessionID: crt.SessionID,
		Items:     string(payload),
		Total:     crt.Total,
		UpdatedAt: crt.UpdatedAt,
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func recompute(crt *Cart) {
	var total float64
	for _, it := range crt.Items {
		total += it.Subtotal
	}
	crt.Total = round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
