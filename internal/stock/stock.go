// Package stock owns every transition of an order's stock reservation.
// Units are decremented exactly once, at reservation; afterwards the
// reservation is either captured (sale approved, counters untouched) or
// released (units returned). Keeping all three call sites here is what
// enforces the "decremented exactly once" invariant.
package stock

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/models"
)

const Actor = "system"

const (
	ReasonReservation = "checkout reservation"
	ReasonReversal    = "checkout reversal"
	ReasonReleased    = "reservation released"
)

// ErrAlreadySettled means the order's reservation was captured or
// released before; the requested transition is a no-op for the caller.
var ErrAlreadySettled = errors.New("stock: reservation already settled")

// ErrConflict means a concurrent writer took the stock first.
var ErrConflict = errors.New("stock: concurrent update lost")

// Reserve decrements product stock for every order line and appends the
// matching movement rows. Must run inside the checkout transaction. The
// guarded UPDATE keeps counters non-negative even if the availability
// check raced.
func Reserve(tx *gorm.DB, orderID uint, items []models.OrderItem) error {
	for _, it := range items {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", it.ProductID, it.Quantity).
			Update("stock", gorm.Expr("stock - ?", it.Quantity))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: product %d", ErrConflict, it.ProductID)
		}

		oid := orderID
		mv := models.StockMovement{
			ProductID: it.ProductID,
			Direction: models.MovementOut,
			Quantity:  it.Quantity,
			Reason:    ReasonReservation,
			OrderID:   &oid,
			Actor:     Actor,
		}
		if err := tx.Create(&mv).Error; err != nil {
			return err
		}
	}
	return nil
}

// Capture marks an approved order's reservation as final. No counters
// move; the decrement already happened at reservation time.
func Capture(tx *gorm.DB, orderID uint) error {
	return transition(tx, orderID, models.StockCaptured)
}

// Release returns a reserved order's units to stock and appends reversal
// movements. Safe to call twice: the second call reports
// ErrAlreadySettled without touching counters.
func Release(tx *gorm.DB, orderID uint, reason string) error {
	if err := transition(tx, orderID, models.StockReleased); err != nil {
		return err
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}
	for _, it := range items {
		err := tx.Model(&models.Product{}).
			Where("id = ?", it.ProductID).
			Update("stock", gorm.Expr("stock + ?", it.Quantity)).Error
		if err != nil {
			return err
		}

		oid := orderID
		mv := models.StockMovement{
			ProductID: it.ProductID,
			Direction: models.MovementIn,
			Quantity:  it.Quantity,
			Reason:    reason,
			OrderID:   &oid,
			Actor:     Actor,
		}
		if err := tx.Create(&mv).Error; err != nil {
			return err
		}
	}
	return nil
}

// transition flips stock_state away from "reserved" at most once.
func transition(tx *gorm.DB, orderID uint, next string) error {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND stock_state = ?", orderID, models.StockReserved).
		Update("stock_state", next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySettled
	}
	return nil
}
