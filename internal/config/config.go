// Package config loads NakalTrade settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	x402 "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
)

// Defaults
const (
	DefaultNetwork = "polygon-amoy"
	DefaultPort    = 8402
	DefaultChatURL = "http://localhost:8100"
	DefaultRPCURL  = "https://rpc-amoy.polygon.technology"
	DefaultPrice   = "$0.01"
)

var (
	ErrMissingPrivateKey     = errors.New("PRIVATE_KEY (or AGENT_PRIVATE_KEY) is not set")
	ErrMissingPaymentAddress = errors.New("PAYMENT_ADDRESS is not set")
)

// Config holds every setting used by the binaries
type Config struct {
	PrivateKey     string
	FacilitatorURL string
	PaymentAddress string
	Network        x402.Network
	Port           int
	ResourceURL    string
	ChatURL        string
	RPCURL         string
	Price          string
	LogEnv         string
}

// Load reads the given .env files (".env" when none are given) and then the
// environment. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment
func FromEnv() (*Config, error) {
	c := &Config{
		PrivateKey:     firstNonEmpty(os.Getenv("PRIVATE_KEY"), os.Getenv("AGENT_PRIVATE_KEY")),
		FacilitatorURL: getenv("FACILITATOR_URL", x402http.DefaultFacilitatorURL),
		PaymentAddress: os.Getenv("PAYMENT_ADDRESS"),
		Network:        x402.Network(getenv("NETWORK", DefaultNetwork)),
		Port:           DefaultPort,
		ResourceURL:    os.Getenv("RESOURCE_URL"),
		ChatURL:        getenv("CHAT_URL", DefaultChatURL),
		RPCURL:         getenv("RPC_URL", DefaultRPCURL),
		Price:          getenv("PRICE", DefaultPrice),
		LogEnv:         getenv("LOG_ENV", "development"),
	}

	if port := os.Getenv("X402_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid X402_PORT: %q", port)
		}
		c.Port = p
	}

	if !evm.IsValidNetwork(c.Network) {
		return nil, fmt.Errorf("unsupported NETWORK: %s", c.Network)
	}
	return c, nil
}

// ValidateClient checks the settings needed to pay for resources
func (c *Config) ValidateClient() error {
	if c.PrivateKey == "" {
		return ErrMissingPrivateKey
	}
	return nil
}

// ValidateService checks the settings needed to charge for resources
func (c *Config) ValidateService() error {
	if c.PaymentAddress == "" {
		return ErrMissingPaymentAddress
	}
	if !evm.IsValidAddress(c.PaymentAddress) {
		return fmt.Errorf("invalid PAYMENT_ADDRESS: %s", c.PaymentAddress)
	}
	if _, err := evm.ParseMoney(c.Price, evm.DefaultDecimals); err != nil {
		return fmt.Errorf("invalid PRICE: %w", err)
	}
	return nil
}

// Addr returns the listen address of the payment service
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
