package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/database"
	"shipper-agent/internal/dispatch"
	"shipper-agent/internal/kafka"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
	"shipper-agent/internal/redis"
)

func main() {
	cfg := config.Load()

	log := logger.New(&cfg.Logger)
	log.Info("Starting dispatch server...")

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisClient, err := redis.Connect(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	producer, err := kafka.NewProducer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Stop()

	store := dispatch.NewStore(db, log)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.WithError(err).Fatal("Failed to ensure database schema")
	}

	issuer := dispatch.NewTokenIssuer(&cfg.Auth)
	otp := dispatch.NewOTPStore(cfg.Auth.OTPCode, log)
	registry := dispatch.NewRegistry()
	hub := dispatch.NewHub(log)
	defer hub.Close()

	handler := dispatch.NewHandler(issuer, otp, registry, hub, store, redisClient, producer, log)
	handler.RegisterHealthCheck("database", func(ctx context.Context) error { return db.Health() })
	handler.RegisterHealthCheck("redis", redisClient.Health)

	registerEventHandlers(consumer, registry, hub, log)
	if err := consumer.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start Kafka consumer")
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.WithField("address", server.Addr).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// registerEventHandlers routes confirmed orders from Kafka into the registry
// and out to subscribed shippers.
func registerEventHandlers(consumer *kafka.Consumer, registry *dispatch.Registry, hub *dispatch.Hub, log *logger.Logger) {
	consumer.RegisterHandler(models.EventTypeOrderConfirmed, func(ctx context.Context, event *models.Event) error {
		var payload models.OrderConfirmedEvent
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal confirmed order: %w", err)
		}
		if err := payload.Offer.Validate(); err != nil {
			log.WithError(err).WithField("event_id", event.ID).Warn("Dropping malformed order event")
			return nil
		}

		if !registry.Announce(payload.Offer) {
			log.WithField("order_id", payload.Offer.OrderID).Debug("Duplicate order event ignored")
			return nil
		}

		delivered := hub.Broadcast(payload.Offer)
		log.WithField("order_id", payload.Offer.OrderID).
			WithField("shippers_notified", delivered).
			Info("Confirmed order announced")
		return nil
	})
}
