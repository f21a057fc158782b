package gin

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/pkg/x402"
)

const (
	paymentContextKey    = "x402.payment"
	settlementContextKey = "x402.settlement"
)

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	CustomPaywallHTML string
	Resource          string
	ResourceRootURL   string
	Network           core.Network
	Asset             string
	Logger            *zap.Logger
	OnSettled         func(c *gin.Context, receipt *core.SettleResponse)
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithDescription is an option for the PaymentMiddleware to set the description.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType is an option for the PaymentMiddleware to set the mime type.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithMaxTimeoutSeconds is an option for the PaymentMiddleware to set the max timeout seconds.
func WithMaxTimeoutSeconds(maxTimeoutSeconds int) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MaxTimeoutSeconds = maxTimeoutSeconds
	}
}

// WithCustomPaywallHTML is an option for the PaymentMiddleware to set the custom paywall HTML.
func WithCustomPaywallHTML(customPaywallHTML string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.CustomPaywallHTML = customPaywallHTML
	}
}

// WithResource is an option for the PaymentMiddleware to set the resource.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

// WithResourceRootURL sets the URL prefix joined with the request path to name the resource.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// WithNetwork is an option for the PaymentMiddleware to set the network explicitly.
func WithNetwork(network core.Network) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Network = network
	}
}

// WithAsset is an option for the PaymentMiddleware to set the asset address.
func WithAsset(asset string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Asset = asset
	}
}

// WithLogger is an option for the PaymentMiddleware to set the logger.
func WithLogger(logger *zap.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = logger
	}
}

// WithOnSettled registers a callback run after settlement and before the
// buffered response is written.
func WithOnSettled(fn func(c *gin.Context, receipt *core.SettleResponse)) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.OnSettled = fn
	}
}

// PaymentFromContext returns the verified payment of the current request
func PaymentFromContext(c *gin.Context) (*x402.Payment, bool) {
	v, ok := c.Get(paymentContextKey)
	if !ok {
		return nil, false
	}
	payment, ok := v.(*x402.Payment)
	return payment, ok
}

// SettlementFromContext returns the settlement receipt of the current request.
// It is only available once the handler has returned, e.g. in OnSettled.
func SettlementFromContext(c *gin.Context) (*core.SettleResponse, bool) {
	v, ok := c.Get(settlementContextKey)
	if !ok {
		return nil, false
	}
	receipt, ok := v.(*core.SettleResponse)
	return receipt, ok
}

// PaymentMiddleware is the Gin middleware for the resource server using the x402 payment protocol.
// price is a human amount such as "$0.01"; the network defaults to polygon-amoy.
func PaymentMiddleware(price, address string, facilitator core.FacilitatorClient, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{
		MaxTimeoutSeconds: 60,
		Network:           "polygon-amoy",
	}

	for _, opt := range opts {
		opt(options)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler, configErr := x402.NewHandler(facilitator, x402.Config{
		Price:             price,
		Network:           options.Network,
		Recipient:         address,
		Asset:             options.Asset,
		Description:       options.Description,
		MimeType:          options.MimeType,
		MaxTimeoutSeconds: options.MaxTimeoutSeconds,
	}, logger)
	if configErr != nil {
		logger.Error("invalid payment middleware configuration", zap.Error(configErr))
	}

	return func(c *gin.Context) {
		if configErr != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       configErr.Error(),
				"x402Version": core.ProtocolVersionV1,
			})
			return
		}

		resource := options.Resource
		if resource == "" {
			resource = options.ResourceRootURL + c.Request.URL.Path
		}
		log := logger.With(zap.String("resource", resource))

		payment, err := handler.ExtractPayment(c.Request.Header, resource)
		if err != nil {
			if errors.Is(err, x402.ErrPaymentRequired) && isWebBrowser(c.Request) {
				html := options.CustomPaywallHTML
				if html == "" {
					html = getPaywallHtml(options)
				}
				c.Abort()
				c.Data(http.StatusPaymentRequired, "text/html", []byte(html))
				return
			}

			message := "X-PAYMENT header is required"
			if !errors.Is(err, x402.ErrPaymentRequired) {
				message = err.Error()
			}
			paymentRequired(c, handler, resource, message)
			return
		}

		if verified, err := handler.Verify(c.Request.Context(), payment); err != nil {
			if errors.Is(err, x402.ErrVerificationFailed) {
				paymentRequired(c, handler, resource, verified.InvalidReason)
				return
			}
			log.Error("failed to verify", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": payment.Payload.X402Version,
			})
			return
		}
		// Unsettled claims are released once the request ends
		defer handler.Release(payment)
		c.Set(paymentContextKey, payment)

		// Create a custom response writer to intercept the response
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		// Failed handlers are not charged
		if c.IsAborted() || writer.statusCode >= http.StatusBadRequest {
			c.Writer = writer.ResponseWriter
			c.Writer.WriteHeader(writer.statusCode)
			_, _ = c.Writer.Write(writer.body.Bytes())
			return
		}

		receipt, err := handler.Settle(c.Request.Context(), payment)
		if err != nil {
			log.Warn("settlement failed", zap.Error(err))
			c.Writer = writer.ResponseWriter
			paymentRequired(c, handler, resource, err.Error())
			return
		}
		c.Set(settlementContextKey, receipt)

		name, value, err := x402.ReceiptHeader(payment.Payload.X402Version, receipt)
		if err != nil {
			c.Writer = writer.ResponseWriter
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": payment.Payload.X402Version,
			})
			return
		}

		if options.OnSettled != nil {
			options.OnSettled(c, receipt)
		}

		// Write the original response with the settlement header
		c.Writer = writer.ResponseWriter
		c.Header(name, value)
		c.Writer.WriteHeader(writer.statusCode)
		_, _ = c.Writer.Write(writer.body.Bytes())
	}
}

func paymentRequired(c *gin.Context, handler *x402.Handler, resource, message string) {
	required, err := handler.BuildPaymentRequired(resource, message)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":       err.Error(),
			"x402Version": core.ProtocolVersionV1,
		})
		return
	}
	c.Header(x402http.PaymentRequiredHeader, required.Header)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, required.Body)
}

func isWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") && strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

// responseWriter is a custom response writer that captures the response
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) WriteHeaderNow() {}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *responseWriter) Status() int {
	return w.statusCode
}

func (w *responseWriter) Size() int {
	return w.body.Len()
}

func (w *responseWriter) Written() bool {
	return w.written
}

// getPaywallHtml is the default paywall HTML for the PaymentMiddleware.
func getPaywallHtml(options *PaymentMiddlewareOptions) string {
	description := options.Description
	if description == "" {
		description = "Payment Required"
	}
	return "<html><body><h1>Payment Required</h1><p>" + description + "</p></body></html>"
}
