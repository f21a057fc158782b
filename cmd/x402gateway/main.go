// Command x402gateway charges x402 payments in front of any HTTP backend.
//
//	x402gateway -backend http://localhost:3000 [-listen :8402] [-exempt /health,/favicon.ico]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/internal/config"
	"github.com/juSt-jeLLy/NakalTrade/internal/gateway"
	"github.com/juSt-jeLLy/NakalTrade/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	listen := flag.String("listen", cfg.Addr(), "gateway listen address")
	backend := flag.String("backend", os.Getenv("X402_BACKEND_URL"), "backend URL to proxy paid requests to")
	exempt := flag.String("exempt", strings.Join(gateway.DefaultExemptPaths, ","), "comma separated paths served without payment")
	flag.Parse()

	logger, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.ValidateService(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	target, err := url.Parse(*backend)
	if err != nil || target.Host == "" {
		logger.Fatal("invalid backend URL, use -backend or X402_BACKEND_URL", zap.String("backend", *backend))
	}

	facilitator := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{
		URL:    cfg.FacilitatorURL,
		Logger: logger,
	})

	handler, err := gateway.New(gateway.Config{
		Backend:        target,
		PaymentAddress: cfg.PaymentAddress,
		Network:        cfg.Network,
		Price:          cfg.Price,
		ResourceURL:    cfg.ResourceURL,
		ExemptPaths:    gateway.ParseExemptPaths(*exempt),
	}, facilitator, logger)
	if err != nil {
		logger.Fatal("failed to create gateway", zap.Error(err))
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting x402 gateway",
		zap.String("addr", server.Addr),
		zap.String("backend", target.String()),
		zap.String("price", cfg.Price),
		zap.String("network", string(cfg.Network)),
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
