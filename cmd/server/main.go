package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"

	"bilimpay-be/internal/catalog"
	"bilimpay-be/internal/config"
	"bilimpay-be/internal/db"
	"bilimpay-be/internal/idempotency"
	"bilimpay-be/internal/logger"
	"bilimpay-be/internal/middleware"
	"bilimpay-be/internal/notification"
	"bilimpay-be/internal/order"
	"bilimpay-be/internal/provider"
	"bilimpay-be/internal/transport"
	"bilimpay-be/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := db.InitDB(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router, sweeper := newServer(cfg, database)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}

	go func() {
		logger.L().Info("payment server running", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.L().Info("shutting down")
	_ = srv.Shutdown(context.Background())
}

func newServer(cfg *config.Config, database *sql.DB) (http.Handler, *order.Sweeper) {
	click := provider.NewClickAdapter(cfg.ClickServiceID, cfg.ClickMerchantID, cfg.ClickSecretKey)
	payme := provider.NewPaymeAdapter(cfg.PaymeMerchantID, cfg.PaymeKey)
	registry := provider.NewRegistry(click, payme)

	orderRepo := order.NewRepository(database)
	guard := idempotency.NewGuard(database, cfg.DedupeWindow)
	catalogRepo := catalog.NewRepository(database)
	notifier := notification.NewHTTPNotifier(cfg.NotifyURL)

	orderSvc := order.NewService(orderRepo, registry, guard, catalogRepo, notifier)
	sweeper := order.NewSweeper(orderRepo, guard, cfg.OrderTTL, cfg.DedupeWindow, cfg.SweepInterval)

	clickHandler := webhook.NewClickHandler(click, orderSvc, guard)
	paymeHandler := webhook.NewPaymeHandler(payme, orderSvc, guard)

	return setupRouter(orderSvc, cfg.JWTSecret, clickHandler.Handle, paymeHandler.Handle), sweeper
}

func setupRouter(orderSvc order.Service, jwtSecret string, clickWebhook, paymeWebhook http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	transport.NewHandler(orderSvc).Register(mux)

	mux.HandleFunc("POST /webhook/click", clickWebhook)
	mux.HandleFunc("POST /webhook/payme", paymeWebhook)

	var handler http.Handler = mux
	handler = middleware.RateLimitMiddleware(handler)
	handler = middleware.AuthMiddleware(jwtSecret)(handler)
	handler = logger.LoggingMiddleware(handler)
	handler = logger.RequestIDMiddleware(handler)

	return handler
}
