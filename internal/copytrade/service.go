// Package copytrade is the NakalTrade payment service: it charges a USDC fee
// over x402 before a copy trade is recorded.
package copytrade

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	core "github.com/juSt-jeLLy/NakalTrade"
	"github.com/juSt-jeLLy/NakalTrade/internal/logging"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
	x402gin "github.com/juSt-jeLLy/NakalTrade/pkg/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "NakalTrade x402 Payment Service"

// FeeDescription is shown to the payer in the 402 answer
const FeeDescription = "Copy Trade Service Fee"

// Config configures the service
type Config struct {
	PaymentAddress string
	Network        core.Network
	// Price is a human amount such as "$0.01"
	Price string
	// ResourceURL is prefixed to request paths in payment requirements
	ResourceURL string
}

// Service serves the copy-trade payment endpoints
type Service struct {
	config      Config
	facilitator core.FacilitatorClient
	store       *Store
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewService validates config and creates the service
func NewService(config Config, facilitator core.FacilitatorClient, logger *zap.Logger) (*Service, error) {
	if !evm.IsValidAddress(config.PaymentAddress) {
		return nil, fmt.Errorf("invalid payment address: %q", config.PaymentAddress)
	}
	if !evm.IsValidNetwork(config.Network) {
		return nil, fmt.Errorf("unsupported network: %s", config.Network)
	}
	if _, err := evm.ParseMoney(config.Price, evm.DefaultDecimals); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:      config,
		facilitator: facilitator,
		store:       NewStore(),
		logger:      logger,
		now:         time.Now,
		newID:       newPaymentID,
	}, nil
}

// Store returns the record store
func (s *Service) Store() *Store {
	return s.store
}

// Router builds the gin engine
func (s *Service) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(s.logger))

	router.GET("/health", s.health)
	router.POST("/payment/create", s.createPayment)
	router.GET("/payment/status/:paymentID", s.paymentStatus)

	router.POST("/copytrade/:paymentID",
		x402gin.PaymentMiddleware(s.config.Price, s.config.PaymentAddress, s.facilitator,
			x402gin.WithDescription(FeeDescription),
			x402gin.WithMimeType("application/json"),
			x402gin.WithNetwork(s.config.Network),
			x402gin.WithResourceRootURL(s.config.ResourceURL),
			x402gin.WithLogger(s.logger),
			x402gin.WithOnSettled(s.recordSettlement),
		),
		s.copyTrade,
	)

	return router
}

func (s *Service) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"network": s.config.Network,
		"wallet":  MaskAddress(s.config.PaymentAddress),
	})
}

func (s *Service) createPayment(c *gin.Context) {
	item := c.DefaultQuery("item_name", "Copy Trade")
	price := c.DefaultQuery("price", s.config.Price)
	if _, err := evm.ParseMoney(price, evm.DefaultDecimals); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	paymentID := s.newID()
	c.JSON(http.StatusOK, gin.H{
		"payment_id":       paymentID,
		"item":             item,
		"price":            price,
		"currency":         "USDC",
		"network":          s.config.Network,
		"pay_to":           s.config.PaymentAddress,
		"verification_url": "/copytrade/" + paymentID,
	})
}

// copyTrade runs only after the payment has been verified. The record is
// completed by recordSettlement once the fee has settled.
func (s *Service) copyTrade(c *gin.Context) {
	paymentID := c.Param("paymentID")
	txHash := c.GetHeader("X-Transaction-Hash")
	if txHash == "" {
		txHash = "0x" + paymentID
	}

	record := Record{
		PaymentID: paymentID,
		Status:    StatusPending,
		Timestamp: s.now(),
		Amount:    s.config.Price,
		Network:   string(s.config.Network),
		Verified:  true,
		TxHash:    txHash,
	}
	if payment, ok := x402gin.PaymentFromContext(c); ok {
		if auth, ok := payment.Payload.Payload["authorization"].(map[string]interface{}); ok {
			record.Payer, _ = auth["from"].(string)
		}
	}
	s.store.Put(record)
	s.logger.Info("payment verified for copy trade", zap.String("payment_id", paymentID))

	c.JSON(http.StatusOK, gin.H{
		"status":     "paid",
		"payment_id": paymentID,
		"tx_hash":    txHash,
		"message":    "Copy trade fee successfully verified via x402",
	})
}

// recordSettlement finalizes the record with the on-chain receipt
func (s *Service) recordSettlement(c *gin.Context, receipt *core.SettleResponse) {
	paymentID := c.Param("paymentID")
	s.store.Update(paymentID, func(record *Record) {
		if receipt.Payer != "" {
			record.Payer = receipt.Payer
		}
		if receipt.Success {
			record.Status = StatusCompleted
			record.TxHash = receipt.Transaction
			return
		}
		record.Status = StatusFailed
		record.ErrorReason = receipt.ErrorReason
	})
}

func (s *Service) paymentStatus(c *gin.Context) {
	paymentID := c.Param("paymentID")
	record, ok := s.store.Get(paymentID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": StatusPending, "payment_id": paymentID})
		return
	}
	c.JSON(http.StatusOK, record)
}

// MaskAddress shortens an address to 0x1234...abcd
func MaskAddress(address string) string {
	if address == "" {
		return "Not set"
	}
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

func newPaymentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
