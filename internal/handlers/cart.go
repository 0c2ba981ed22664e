package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/mykafka"
	"github.com/lumosfitness/storefront/internal/service/cart"
)

type CartHandler struct {
	Carts    *cart.Store
	Producer *mykafka.Producer
}

func (h *CartHandler) publish(c echo.Context, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "cart_events", fmt.Sprint(event["sessionID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Warn("kafka publish failed", "error", err)
	}
}

func (h *CartHandler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")

	crt, err := h.Carts.Get(ctx, sessionID)
	if err != nil {
		logging.FromContext(ctx).Error("get_cart_failed", "session_id", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot load cart")
	}

	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) GetSummary(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")

	crt, err := h.Carts.Get(ctx, sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot load cart")
	}

	totalItems := 0
	for _, it := range crt.Items {
		totalItems += it.Quantity
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total_items": totalItems,
		"total":       crt.Total,
		"has_items":   len(crt.Items) > 0,
		"updated_at":  crt.UpdatedAt,
	})
}

func (h *CartHandler) AddItem(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")

	var req struct {
		ProductID uint   `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Size      string `json:"size"`
		Color     string `json:"color"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.ProductID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "product_id is required")
	}

	crt, err := h.Carts.AddItem(ctx, sessionID, req.ProductID, req.Quantity, req.Size, req.Color)
	if err != nil {
		return cartError(err)
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_added",
		"sessionID": sessionID,
		"productID": req.ProductID,
		"quantity":  req.Quantity,
	})
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) UpdateItem(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")
	itemID := c.Param("itemID")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	crt, err := h.Carts.UpdateQuantity(ctx, sessionID, itemID, req.Quantity)
	if err != nil {
		return cartError(err)
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_updated",
		"sessionID": sessionID,
		"itemID":    itemID,
		"quantity":  req.Quantity,
	})
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")
	itemID := c.Param("itemID")

	crt, err := h.Carts.RemoveItem(ctx, sessionID, itemID)
	if err != nil {
		return cartError(err)
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_removed",
		"sessionID": sessionID,
		"itemID":    itemID,
	})
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) ClearCart(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")

	if err := h.Carts.Clear(ctx, sessionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot clear cart")
	}

	h.publish(c, map[string]any{
		"type":      "cart_cleared",
		"sessionID": sessionID,
	})
	return c.JSON(http.StatusOK, map[string]any{"session_id": sessionID, "items": []any{}, "total": 0})
}

func cartError(err error) error {
	var stockErr *cart.InsufficientStockError
	var variantErr *cart.InvalidVariantError

	switch {
	case errors.Is(err, cart.ErrProductUnavailable):
		return echo.NewHTTPError(http.StatusNotFound, "product not found or unavailable")
	case errors.Is(err, cart.ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "item not found in cart")
	case errors.As(err, &stockErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]any{
			"message":   "insufficient stock",
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.As(err, &variantErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]any{
			"message": fmt.Sprintf("%s not available", variantErr.Field),
			"offered": variantErr.Offered,
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
