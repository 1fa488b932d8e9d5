package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/config"
	"github.com/malaysiangroceries/kopikopi-be/internal/database"
	"github.com/malaysiangroceries/kopikopi-be/internal/logger"
	"github.com/malaysiangroceries/kopikopi-be/internal/routes"
	"github.com/malaysiangroceries/kopikopi-be/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Error("database unavailable", zap.Error(err))
		return err
	}

	mailer := services.NewSMTPMailer(cfg, log)
	menu := services.NewMenuService(db, cfg.MenuCacheTTL)
	otp := services.NewOTPService(services.OTPServiceDeps{
		DB:       db,
		Notifier: mailer,
		TTL:      cfg.OTPTTL,
	})
	orders := services.NewOrderService(services.OrderServiceDeps{
		DB:              db,
		OTP:             otp,
		Menu:            menu,
		Notifier:        mailer,
		Alerts:          services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log),
		Logger:          log.Named("orders"),
		FrontendBaseURL: cfg.FrontendBaseURL,
		ShopAddress:     cfg.ShopAddress,
		MapsURL:         cfg.ShopGoogleMapsURL,
	})

	app := routes.NewApp(cfg, log)
	routes.Register(app, routes.Services{
		Menu:     menu,
		OTP:      otp,
		Orders:   orders,
		Tracking: services.NewTrackingService(db),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		listenErr <- app.Listen(":" + cfg.AppPort)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			log.Error("fiber.Listen error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	orders.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
