package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"example.com/storefront/internal/checkout"
	"example.com/storefront/internal/config"
	"example.com/storefront/internal/logging"
	"example.com/storefront/internal/mockapi"
)

func main() {
	cfg := config.Load()
	var (
		dbPath = flag.String("db", "mockapi.db", "path to the mock API sqlite database file")
		addr   = flag.String("addr", ":3001", "HTTP listen address for the mock commerce API")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	store, db, err := mockapi.Open(ctx, *dbPath)
	if err != nil {
		logger.Error("open mock api db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	serverLogger := logger.With("component", "mockapi.http")
	pricing := checkout.Pricing{Shipping: cfg.ShippingFlat, TaxRate: cfg.TaxRate}
	server := &http.Server{
		Addr:    *addr,
		Handler: mockapi.NewServer(store, serverLogger, mockapi.WithPricing(pricing)).Router(),
	}

	go func() {
		serverLogger.Info("mock commerce API listening", "addr", *addr, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Error("mock api server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(serverLogger, server)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return
	}
	logger.Info("mock api server stopped")
}
