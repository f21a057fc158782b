// Package gateway protects any HTTP backend with x402 payments by reverse
// proxying paid requests to it.
package gateway

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402stdlib "github.com/juSt-jeLLy/NakalTrade/pkg/stdlib"
)

// DefaultExemptPaths are served without payment
var DefaultExemptPaths = []string{"/health", "/favicon.ico"}

// Config describes the backend and what each request costs
type Config struct {
	Backend        *url.URL
	PaymentAddress string
	Network        core.Network
	Price          string
	// ResourceURL prefixes the request path in advertised requirements
	ResourceURL string
	ExemptPaths []string
}

// New returns a handler that charges for every non-exempt request and forwards
// it to the backend once settled
func New(config Config, facilitator core.FacilitatorClient, logger *zap.Logger) (http.Handler, error) {
	if config.Backend == nil || config.Backend.Host == "" {
		return nil, errors.New("gateway: backend URL is required")
	}
	if facilitator == nil {
		return nil, errors.New("gateway: facilitator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	target := config.Backend
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		host := req.Host
		director(req)
		req.Header.Set("X-Forwarded-Host", host)
		req.Header.Set("X-Origin-Host", target.Host)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("backend request failed", zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	opts := []x402stdlib.Options{
		x402stdlib.WithResourceRootURL(strings.TrimRight(config.ResourceURL, "/")),
		x402stdlib.WithDescription("Access to " + target.Host),
		x402stdlib.WithLogger(logger),
	}
	if config.Network != "" {
		opts = append(opts, x402stdlib.WithNetwork(config.Network))
	}
	paid := x402stdlib.PaymentMiddleware(config.Price, config.PaymentAddress, facilitator, opts...)(proxy)

	exempt := config.ExemptPaths
	if exempt == nil {
		exempt = DefaultExemptPaths
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range exempt {
			if path != "" && r.URL.Path == path {
				proxy.ServeHTTP(w, r)
				return
			}
		}
		paid.ServeHTTP(w, r)
	}), nil
}

// ParseExemptPaths splits a comma separated list of paths
func ParseExemptPaths(list string) []string {
	var paths []string
	for _, path := range strings.Split(list, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}
