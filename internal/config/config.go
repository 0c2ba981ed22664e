package config

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/pkg/db"
)

type Config struct {
	DB_HOST         string
	DB_PORT         string
	DB_USER         string
	DB_PASSWORD     string
	DB_NAME         string
	REDIS_ADDR      string
	REDIS_PASSWORD  string
	ES_URL          string
	ES_USER         string
	ES_PASSWORD     string
	KAFKA_ADDRESS   string
	JWT_SECRET      string
	MP_ACCESS_TOKEN string
	MP_BASE_URL     string
	API_URL         string
	FRONTEND_URL    string
	SHIPPING_ORIGIN string
	LOG_LEVEL       string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:         os.Getenv("DB_HOST"),
		DB_PORT:         os.Getenv("DB_PORT"),
		DB_USER:         os.Getenv("DB_USER"),
		DB_PASSWORD:     os.Getenv("DB_PASSWORD"),
		DB_NAME:         os.Getenv("DB_NAME"),
		REDIS_ADDR:      os.Getenv("REDIS_ADDR"),
		REDIS_PASSWORD:  os.Getenv("REDIS_PASSWORD"),
		ES_URL:          os.Getenv("ES_URL"),
		ES_USER:         os.Getenv("ES_USER"),
		ES_PASSWORD:     os.Getenv("ES_PASSWORD"),
		KAFKA_ADDRESS:   os.Getenv("KAFKA_ADDRESS"),
		JWT_SECRET:      os.Getenv("JWT_SECRET"),
		MP_ACCESS_TOKEN: os.Getenv("MP_ACCESS_TOKEN"),
		MP_BASE_URL:     os.Getenv("MP_BASE_URL"),
		API_URL:         os.Getenv("API_URL"),
		FRONTEND_URL:    os.Getenv("FRONTEND_URL"),
		SHIPPING_ORIGIN: os.Getenv("SHIPPING_ORIGIN"),
		LOG_LEVEL:       os.Getenv("LOG_LEVEL"),
	}

	return config, nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB_USER, c.DB_PASSWORD, c.DB_HOST, c.DB_PORT, c.DB_NAME,
	)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.Customer{},
		&models.Cart{},
		&models.Order{},
		&models.OrderItem{},
		&models.StockMovement{},
		&models.PaymentLog{},
		&models.User{},
	)
}

func InitDB() (*gorm.DB, error) {
	configuration, _ := LoadConfig()

	conn, err := db.Open(context.Background(), configuration.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("database migration: %w", err)
	}
	return conn, nil
}
