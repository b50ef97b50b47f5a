package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipper-agent/internal/agent"
	"shipper-agent/internal/backend"
	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/routing"
	"shipper-agent/internal/subscription"
)

func main() {
	cfg := config.Load()

	log := logger.New(&cfg.Logger)
	log.Info("Starting shipper agent...")

	client := backend.NewClient(&cfg.Backend, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := login(ctx, client, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Login failed")
	}
	log.WithField("shipper_id", session.ShipperID).Info("Logged in")
	logShiftSummary(ctx, client, log)

	feed := subscription.NewFeed(&cfg.Subscription, session.ShipperID, client.Token, log)
	router := routing.NewClient(&cfg.Routing, log)
	a := agent.New(cfg, client, feed, router, log)

	err = a.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("Shipper agent stopped")
	default:
		log.WithError(err).Fatal("Shipper agent failed")
	}
}

// logShiftSummary prints where the shipper left off. Report failures do not
// block the shift.
func logShiftSummary(ctx context.Context, client *backend.Client, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if perf, err := client.GetPerformance(ctx); err != nil {
		log.WithError(err).Warn("Could not load performance summary")
	} else {
		log.WithFields(map[string]interface{}{
			"completed_orders":     perf.CompletedOrders,
			"avg_response_seconds": perf.AvgResponseSeconds,
		}).Info("Performance to date")
	}

	if earnings, err := client.GetEarnings(ctx); err != nil {
		log.WithError(err).Warn("Could not load earnings summary")
	} else {
		log.WithField("total_earnings", earnings.Total).Info("Earnings to date")
	}
}

// login requests a one-time code and exchanges it for a session token. The
// demo backend logs the code it issues; a fixed demo code works out of the
// box when the backend is configured with one.
func login(ctx context.Context, client *backend.Client, cfg *config.Config, log *logger.Logger) (*backend.VerifyOTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := client.RequestOTP(ctx, cfg.Agent.Phone); err != nil {
		return nil, err
	}

	code := os.Getenv("SHIPPER_OTP_CODE")
	if code == "" {
		code = cfg.Auth.OTPCode
	}

	session, err := client.VerifyOTP(ctx, cfg.Agent.Phone, code)
	if err != nil {
		return nil, err
	}
	return session, nil
}
