package stdlib

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/pkg/x402"
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

// WithResourceRootURL is an option for the PaymentMiddleware to set the resource root URL.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// WithNetwork is an option for the PaymentMiddleware to set the network (chain).
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

// PaymentMiddleware is the Go standard library middleware for the resource server using the x402 payment protocol.
// The payment is settled before the wrapped handler runs.
func PaymentMiddleware(price, address string, facilitator core.FacilitatorClient, opts ...Options) func(http.Handler) http.Handler {
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

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if configErr != nil {
				writeErrorResponse(w, http.StatusInternalServerError, configErr.Error())
				return
			}

			resource := options.Resource
			if resource == "" {
				resource = options.ResourceRootURL + r.URL.Path
			}

			payment, err := handler.ExtractPayment(r.Header, resource)
			if err != nil {
				isWebBrowser := strings.Contains(r.Header.Get("Accept"), "text/html") && strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
				if errors.Is(err, x402.ErrPaymentRequired) && isWebBrowser {
					html := options.CustomPaywallHTML
					if html == "" {
						html = getPaywallHtml(options)
					}
					w.Header().Set("Content-Type", "text/html")
					w.WriteHeader(http.StatusPaymentRequired)
					_, _ = w.Write([]byte(html))
					return
				}

				message := "X-PAYMENT header is required"
				if !errors.Is(err, x402.ErrPaymentRequired) {
					message = err.Error()
				}
				writePaymentRequiredResponse(w, handler, resource, message)
				return
			}

			verified, err := handler.Verify(r.Context(), payment)
			if err != nil {
				if errors.Is(err, x402.ErrVerificationFailed) {
					writePaymentRequiredResponse(w, handler, resource, verified.InvalidReason)
					return
				}
				writeErrorResponse(w, http.StatusInternalServerError, err.Error())
				return
			}

			receipt, err := handler.Settle(r.Context(), payment)
			if err != nil {
				writePaymentRequiredResponse(w, handler, resource, err.Error())
				return
			}

			name, value, err := x402.ReceiptHeader(payment.Payload.X402Version, receipt)
			if err != nil {
				writeErrorResponse(w, http.StatusInternalServerError, err.Error())
				return
			}
			w.Header().Set(name, value)

			// Proceed to the next handler
			next.ServeHTTP(w, r)
		})
	}
}

// writeErrorResponse writes an error response with the given status code and message.
func writeErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       errorMsg,
		"x402Version": core.ProtocolVersionV1,
	})
}

// writePaymentRequiredResponse writes a 402 with the v1 body and the v2 PAYMENT-REQUIRED header.
func writePaymentRequiredResponse(w http.ResponseWriter, handler *x402.Handler, resource, errorMsg string) {
	required, err := handler.BuildPaymentRequired(resource, errorMsg)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set(x402http.PaymentRequiredHeader, required.Header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(required.Body)
}

// getPaywallHtml is the default paywall HTML for the PaymentMiddleware.
func getPaywallHtml(_ *PaymentMiddlewareOptions) string {
	return "<html><body>Payment Required</body></html>"
}
