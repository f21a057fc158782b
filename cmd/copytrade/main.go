// Command copytrade runs the NakalTrade x402 payment service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/internal/config"
	"github.com/juSt-jeLLy/NakalTrade/internal/copytrade"
	"github.com/juSt-jeLLy/NakalTrade/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.ValidateService(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.LogEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	facilitator := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{
		URL:    cfg.FacilitatorURL,
		Logger: logger,
	})

	service, err := copytrade.NewService(copytrade.Config{
		PaymentAddress: cfg.PaymentAddress,
		Network:        cfg.Network,
		Price:          cfg.Price,
		ResourceURL:    cfg.ResourceURL,
	}, facilitator, logger)
	if err != nil {
		logger.Fatal("failed to create service", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting NakalTrade x402 service",
		zap.String("addr", server.Addr),
		zap.String("network", string(cfg.Network)),
		zap.String("wallet", copytrade.MaskAddress(cfg.PaymentAddress)),
		zap.String("facilitator", cfg.FacilitatorURL),
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
