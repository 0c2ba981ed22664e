package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/mykafka"
	"github.com/lumosfitness/storefront/internal/service/search"
	"github.com/lumosfitness/storefront/internal/util"
)

type ProductHandler struct {
	DB       *gorm.DB
	ES       *elasticsearch.Client
	Index    string
	Producer *mykafka.Producer
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func (h *ProductHandler) publish(c echo.Context, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "product_events", fmt.Sprint(event["productID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Warn("kafka publish failed", "error", err)
	}
}

func (h *ProductHandler) index(c echo.Context, p *models.Product) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.Index(ctx, h.ES, h.Index, p); err != nil {
		logging.FromContext(c.Request().Context()).Warn("product index failed", "product_id", p.ID, "error", err)
	}
}

func (h *ProductHandler) GetProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.get")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not an integer")
	}

	var product models.Product
	if err := h.DB.WithContext(ctx).First(&product, "id = ? AND active = ?", id, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		l.Error("get_product_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot load product")
	}

	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.list")

	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	var total int64
	if err := h.DB.WithContext(ctx).Model(&models.Product{}).Where("active = ?", true).Count(&total).Error; err != nil {
		l.Error("list_products_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot count products")
	}

	var items []models.Product
	err := h.DB.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").Offset(offset).Limit(limit).
		Find(&items).Error
	if err != nil {
		l.Error("list_products_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot list products")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

type productRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Active      *bool   `json:"active"`
	Sizes       string  `json:"sizes"`
	Colors      string  `json:"colors"`
	Image       string  `json:"image"`
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.create")

	var req productRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Name == "" || req.Price < 0 || req.Stock < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required, price and stock must be non-negative")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	prod := models.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Active:      active,
		Sizes:       req.Sizes,
		Colors:      req.Colors,
		Image:       req.Image,
	}
	if err := h.DB.WithContext(ctx).Create(&prod).Error; err != nil {
		l.Error("create_product_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot create product")
	}

	h.index(c, &prod)
	h.publish(c, map[string]any{"type": "product_created", "productID": prod.ID, "name": prod.Name})
	l.Info("product created", "product_id", prod.ID)
	return c.JSON(http.StatusCreated, prod)
}

func (h *ProductHandler) PatchProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.patch")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not an integer")
	}

	var req struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		Price       *float64 `json:"price"`
		Active      *bool    `json:"active"`
		Sizes       *string  `json:"sizes"`
		Colors      *string  `json:"colors"`
		Image       *string  `json:"image"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Price != nil && *req.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price cannot be negative")
	}

	var prod models.Product
	if err := h.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot load product")
	}

	if req.Name != nil {
		prod.Name = *req.Name
	}
	if req.Description != nil {
		prod.Description = *req.Description
	}
	if req.Price != nil {
		prod.Price = *req.Price
	}
	if req.Active != nil {
		prod.Active = *req.Active
	}
	if req.Sizes != nil {
		prod.Sizes = *req.Sizes
	}
	if req.Colors != nil {
		prod.Colors = *req.Colors
	}
	if req.Image != nil {
		prod.Image = *req.Image
	}

	if err := h.DB.WithContext(ctx).Save(&prod).Error; err != nil {
		l.Error("patch_product_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot update product")
	}

	h.index(c, &prod)
	h.publish(c, map[string]any{"type": "product_updated", "productID": prod.ID, "name": prod.Name})
	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.delete")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not an integer")
	}

	res := h.DB.WithContext(ctx).Delete(&models.Product{}, id)
	if res.Error != nil {
		l.Error("delete_product_failed", "error", res.Error)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot delete product")
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "product not found")
	}

	if h.ES != nil {
		delCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := search.Delete(delCtx, h.ES, h.Index, uint(id)); err != nil {
			l.Warn("product deindex failed", "product_id", id, "error", err)
		}
	}
	h.publish(c, map[string]any{"type": "product_deleted", "productID": id})
	return c.NoContent(http.StatusNoContent)
}

// AdjustStock applies a signed manual correction to a product's stock
// counter and records it in the movement ledger. The decrement is
// guarded the same way checkout reservations are, so a correction
// racing a reservation cannot push the counter negative.
func (h *ProductHandler) AdjustStock(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.adjust_stock")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not an integer")
	}

	var req struct {
		Quantity int    `json:"quantity"`
		Reason   string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Quantity == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity must be non-zero")
	}
	if req.Reason == "" {
		req.Reason = "manual adjustment"
	}

	actor, _ := c.Get("username").(string)
	if actor == "" {
		actor = "admin"
	}

	var prod models.Product
	txErr := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock + ? >= 0", id, req.Quantity).
			Update("stock", gorm.Expr("stock + ?", req.Quantity))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&models.Product{}, id).Error; err != nil {
				return err
			}
			return echo.NewHTTPError(http.StatusBadRequest, "stock cannot go negative")
		}
		if err := tx.First(&prod, id).Error; err != nil {
			return err
		}

		direction := models.MovementIn
		qty := req.Quantity
		if qty < 0 {
			direction = models.MovementOut
			qty = -qty
		}
		mv := models.StockMovement{
			ProductID: prod.ID,
			Direction: direction,
			Quantity:  qty,
			Reason:    req.Reason,
			Actor:     actor,
		}
		return tx.Create(&mv).Error
	})
	if txErr != nil {
		if he, ok := txErr.(*echo.HTTPError); ok {
			return he
		}
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		l.Error("adjust_stock_failed", "error", txErr)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot adjust stock")
	}

	h.publish(c, map[string]any{
		"type":      "stock_adjusted",
		"productID": prod.ID,
		"quantity":  req.Quantity,
		"actor":     actor,
	})
	l.Info("stock adjusted", "product_id", prod.ID, "delta", req.Quantity, "actor", actor)
	return c.JSON(http.StatusOK, prod)
}
