package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lumosfitness/storefront/internal/cache"
	"github.com/lumosfitness/storefront/internal/handlers"
	"github.com/lumosfitness/storefront/internal/middleware/ratelimit"
)

type Deps struct {
	Cache           *cache.Cache
	AuthHandler     *handlers.AuthHandler
	ProductHandler  *handlers.ProductHandler
	CartHandler     *handlers.CartHandler
	CheckoutHandler *handlers.CheckoutHandler
	WebhookHandler  *handlers.WebhookHandler
	SearchHandler   *handlers.SearchHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.POST("/login", d.AuthHandler.Login)

	v1.GET("/products", d.ProductHandler.GetProducts)
	v1.GET("/products/:id", d.ProductHandler.GetProduct)
	if d.SearchHandler != nil {
		v1.GET("/search", d.SearchHandler.Search)
	}

	crt := v1.Group("/cart")
	crt.GET("/:sessionID", d.CartHandler.GetCart)
	crt.GET("/:sessionID/summary", d.CartHandler.GetSummary)
	crt.POST("/:sessionID/items", d.CartHandler.AddItem)
	crt.PUT("/:sessionID/items/:itemID", d.CartHandler.UpdateItem)
	crt.DELETE("/:sessionID/items/:itemID", d.CartHandler.RemoveItem)
	crt.DELETE("/:sessionID", d.CartHandler.ClearCart)

	co := v1.Group("/checkout")
	co.GET("/summary/:sessionID", d.CheckoutHandler.GetSummary)
	if d.Cache != nil {
		// Checkout is throttled harder than reads: failed reservation
		// attempts are expensive.
		co.POST("", d.CheckoutHandler.ProcessCheckout,
			ratelimit.Middleware(d.Cache, 5, time.Minute))
	} else {
		co.POST("", d.CheckoutHandler.ProcessCheckout)
	}

	v1.POST("/webhooks/mercadopago", d.WebhookHandler.MercadoPago)

	admin := v1.Group("/admin", d.AuthHandler.AdminOnly)
	admin.POST("/products", d.ProductHandler.CreateProduct)
	admin.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	admin.DELETE("/products/:id", d.ProductHandler.DeleteProduct)
	admin.POST("/products/:id/stock", d.ProductHandler.AdjustStock)
}
