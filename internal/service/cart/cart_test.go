package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/cache"
	"github.com/lumosfitness/storefront/internal/config"
	"github.com/lumosfitness/storefront/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// One in-memory database per connection otherwise.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.Migrate(db))
	return db
}

// fakeCache is a map-backed stand-in for the redis layer.
type fakeCache struct {
	data  map[string][]byte
	onSet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	if f.onSet != nil {
		f.onSet()
	}
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price float64, stock int) *models.Product {
	t.Helper()
	p := models.Product{
		Name:   name,
		Price:  price,
		Stock:  stock,
		Active: true,
		Sizes:  "P,M,G",
		Colors: "black,white",
	}
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func TestGetMissingCartIsEmpty(t *testing.T) {
	store := NewStore(initTestDB(t), newFakeCache())

	crt, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, crt.Items)
	require.Zero(t, crt.Total)
}

func TestAddItemAndMergeVariant(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	store := NewStore(db, newFakeCache())
	p := seedProduct(t, db, "Legging Flow", 100.00, 10)

	crt, err := store.AddItem(ctx, "s1", p.ID, 2, "M", "black")
	require.NoError(t, err)
	require.Len(t, crt.Items, 1)
	require.Equal(t, 2, crt.Items[0].Quantity)
	require.Equal(t, 200.00, crt.Total)
	require.NotEmpty(t, crt.Items[0].ID)

	// Same variant merges into the existing line.
	crt, err = store.AddItem(ctx, "s1", p.ID, 1, "M", "black")
	require.NoError(t, err)
	require.Len(t, crt.Items, 1)
	require.Equal(t, 3, crt.Items[0].Quantity)
	require.Equal(t, 300.00, crt.Total)

	// A different size is its own line.
	crt, err = store.AddItem(ctx, "s1", p.ID, 1, "G", "black")
	require.NoError(t, err)
	require.Len(t, crt.Items, 2)
	require.Equal(t, 400.00, crt.Total)
}

func TestAddItemUnavailableProduct(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	store := NewStore(db, newFakeCache())

	_, err := store.AddItem(ctx, "s1", 999, 1, "M", "black")
	require.ErrorIs(t, err, ErrProductUnavailable)

	inactive := models.Product{Name: "Retired", Price: 50, Stock: 5, Active: false, Sizes: "M", Colors: "black"}
	require.NoError(t, db.Create(&inactive).Error)

	_, err = store.AddItem(ctx, "s1", inactive.ID, 1, "M", "black")
	require.ErrorIs(t, err, ErrProductUnavailable)
}

func TestAddItemInvalidVariant(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	store := NewStore(db, newFakeCache())
	p := seedProduct(t, db, "Top Active", 80.00, 5)

	_, err := store.AddItem(ctx, "s1", p.ID, 1, "XG", "black")
	var variantErr *InvalidVariantError
	require.ErrorAs(t, err, &variantErr)
	require.Equal(t, "size", variantErr.Field)
	require.Equal(t, "P,M,G", variantErr.Offered)

	_, err = store.AddItem(ctx, "s1", p.ID, 1, "M", "neon")
	require.ErrorAs(t, err, &variantErr)
	require.Equal(t, "color", variantErr.Field)
}

func TestAddItemInsufficientStock(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	store := NewStore(db, newFakeCache())
	p := seedProduct(t, db, "Short Run", 60.00, 3)

	_, err := store.AddItem(ctx, "s1", p.ID, 4, "M", "black")
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 4, stockErr.Requested)
	require.Equal(t, 3, stockErr.Available)

	// Cumulative quantity across adds is what counts.
	_, err = store.AddItem(ctx, "s1", p.ID, 2, "M", "black")
	require.NoError(t, err)
	_, err = store.AddItem(ctx, "s1", p.ID, 2, "M", "black")
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 4, stockErr.Requested)
}

func TestGetFallsBackToDurableRow(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	fc := newFakeCache()
	store := NewStore(db, fc)
	p := seedProduct(t, db, "Legging Flow", 100.00, 10)

	items := []models.CartItem{{
		ID: "it-1", ProductID: p.ID, Name: p.Name, Price: 100.00,
		Quantity: 2, Size: "M", Color: "black", Subtotal: 200.00,
	}}
	payload, _ := json.Marshal(items)
	require.NoError(t, db.Create(&models.Cart{SessionID: "s1", Items: string(payload), Total: 200.00}).Error)

	crt, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, crt.Items, 1)
	require.Equal(t, 200.00, crt.Total)

	// The read repopulated the fast layer.
	_, hit := fc.data[cache.CartKey("s1")]
	require.True(t, hit)
}

func TestGetRevalidatesAgainstProducts(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	fc := newFakeCache()
	store := NewStore(db, fc)

	gone := seedProduct(t, db, "Deactivated", 90.00, 5)
	short := seedProduct(t, db, "Nearly Gone", 50.00, 5)
	repriced := seedProduct(t, db, "Repriced", 70.00, 5)

	stale := Cart{SessionID: "s1", Items: []models.CartItem{
		{ID: "a", ProductID: gone.ID, Price: 90.00, Quantity: 1, Size: "M", Color: "black", Subtotal: 90.00},
		{ID: "b", ProductID: short.ID, Price: 50.00, Quantity: 5, Size: "M", Color: "black", Subtotal: 250.00},
		{ID: "c", ProductID: repriced.ID, Price: 70.00, Quantity: 1, Size: "M", Color: "black", Subtotal: 70.00},
	}}
	require.NoError(t, fc.Set(ctx, cache.CartKey("s1"), &stale, cache.CartTTL))

	require.NoError(t, db.Model(gone).Update("active", false).Error)
	require.NoError(t, db.Model(short).Update("stock", 2).Error)
	require.NoError(t, db.Model(repriced).Update("price", 84.90).Error)

	crt, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, crt.Items, 2)

	// Inactive product dropped, quantity clamped to stock, price refreshed.
	require.Equal(t, short.ID, crt.Items[0].ProductID)
	require.Equal(t, 2, crt.Items[0].Quantity)
	require.Equal(t, 100.00, crt.Items[0].Subtotal)
	require.Equal(t, 84.90, crt.Items[1].Price)
	require.Equal(t, 184.90, crt.Total)

	// The cleaned cart is what both layers hold now.
	var row models.Cart
	require.NoError(t, db.First(&row, "session_id = ?", "s1").Error)
	require.Equal(t, 184.90, row.Total)
}

func TestUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	store := NewStore(db, newFakeCache())
	p := seedProduct(t, db, "Legging Flow", 100.00, 5)

	crt, err := store.AddItem(ctx, "s1", p.ID, 1, "M", "black")
	require.NoError(t, err)
	itemID := crt.Items[0].ID

	crt, err = store.UpdateQuantity(ctx, "s1", itemID, 3)
	require.NoError(t, err)
	require.Equal(t, 3, crt.Items[0].Quantity)
	require.Equal(t, 300.00, crt.Total)

	_, err = store.UpdateQuantity(ctx, "s1", itemID, 9)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	_, err = store.UpdateQuantity(ctx, "s1", "no-such-item", 1)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveItemAndClear(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)
	fc := newFakeCache()
	store := NewStore(db, fc)
	p1 := seedProduct(t, db, "Legging Flow", 100.00, 5)
	p2 := seedProduct(t, db, "Top Active", 80.00, 5)

	_, err := store.AddItem(ctx, "s1", p1.ID, 1, "M", "black")
	require.NoError(t, err)
	crt, err := store.AddItem(ctx, "s1", p2.ID, 1, "M", "white")
	require.NoError(t, err)

	crt, err = store.RemoveItem(ctx, "s1", crt.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, crt.Items, 1)
	require.Equal(t, 80.00, crt.Total)

	_, err = store.RemoveItem(ctx, "s1", "no-such-item")
	require.ErrorIs(t, err, ErrItemNotFound)

	require.NoError(t, store.Clear(ctx, "s1"))
	_, hit := fc.data[cache.CartKey("s1")]
	require.False(t, hit)
	err = db.First(&models.Cart{}, "session_id = ?", "s1").Error
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
