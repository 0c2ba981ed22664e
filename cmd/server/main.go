package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lumosfitness/storefront/internal/cache"
	"github.com/lumosfitness/storefront/internal/config"
	"github.com/lumosfitness/storefront/internal/es"
	"github.com/lumosfitness/storefront/internal/gateway"
	"github.com/lumosfitness/storefront/internal/handlers"
	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/mykafka"
	"github.com/lumosfitness/storefront/internal/service/cart"
	"github.com/lumosfitness/storefront/internal/service/checkout"
	"github.com/lumosfitness/storefront/internal/service/payment"
	httpserver "github.com/lumosfitness/storefront/internal/transport/http"
	loggingmw "github.com/lumosfitness/storefront/pkg/middleware/logging"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("database init: %v", err)
	}

	ctx := context.Background()

	redisCache, err := cache.New(ctx, configuration.REDIS_ADDR, configuration.REDIS_PASSWORD)
	if err != nil {
		log.Fatalf("redis init: %v", err)
	}

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Printf("kafka disabled: %v", err)
		prod = nil
	}

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Printf("elasticsearch disabled: %v", err)
		esClient = nil
	}

	mp := gateway.NewMercadoPago(
		configuration.MP_ACCESS_TOKEN,
		configuration.MP_BASE_URL,
		configuration.API_URL,
		configuration.FRONTEND_URL,
	)

	carts := cart.NewStore(db, redisCache)
	orchestrator := checkout.NewOrchestrator(db, carts, mp)
	reconciler := payment.NewReconciler(db, mp)

	jwtSecret := []byte(configuration.JWT_SECRET)

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(loggingmw.RequestLogger(logger))

	deps := httpserver.Deps{
		Cache:           redisCache,
		AuthHandler:     &handlers.AuthHandler{DB: db, JWTSecret: jwtSecret},
		ProductHandler:  &handlers.ProductHandler{DB: db, ES: esClient, Index: "products", Producer: prod},
		CartHandler:     &handlers.CartHandler{Carts: carts, Producer: prod},
		CheckoutHandler: &handlers.CheckoutHandler{Orchestrator: orchestrator, Carts: carts, Producer: prod},
		WebhookHandler:  &handlers.WebhookHandler{Reconciler: reconciler},
	}
	if esClient != nil {
		deps.SearchHandler = &handlers.SearchHandler{ES: esClient, Index: "products"}
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}
	if err := redisCache.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
	if prod != nil {
		if err := prod.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
