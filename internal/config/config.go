package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	// Click merchant credentials
	ClickServiceID  string
	ClickMerchantID string
	ClickSecretKey  string

	// Payme merchant credentials
	PaymeMerchantID string
	PaymeKey        string

	NotifyURL string
	JWTSecret string

	OrderTTL      time.Duration
	DedupeWindow  time.Duration
	SweepInterval time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    os.Getenv("APP_PORT"),
		AppEnv:     os.Getenv("APP_ENV"),

		ClickServiceID:  os.Getenv("CLICK_SERVICE_ID"),
		ClickMerchantID: os.Getenv("CLICK_MERCHANT_ID"),
		ClickSecretKey:  os.Getenv("CLICK_SECRET_KEY"),

		PaymeMerchantID: os.Getenv("PAYME_MERCHANT_ID"),
		PaymeKey:        os.Getenv("PAYME_KEY"),

		NotifyURL: os.Getenv("NOTIFY_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		OrderTTL:      durationFromEnv("ORDER_TTL_MINUTES", 30*time.Minute),
		DedupeWindow:  durationFromEnv("DEDUPE_WINDOW_MINUTES", 10*time.Minute),
		SweepInterval: durationFromEnv("SWEEP_INTERVAL_MINUTES", 5*time.Minute),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}
