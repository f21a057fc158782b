// Command x402pay pays for x402-protected resources and talks to the
// NakalTrade agent.
//
//	x402pay fetch -url URL [-method POST] [-data BODY]
//	x402pay chat -m MESSAGE
//	x402pay supported
//	x402pay balance
//	x402pay wallet
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	x402 "github.com/juSt-jeLLy/NakalTrade"
	"github.com/juSt-jeLLy/NakalTrade/chat"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/internal/config"
	"github.com/juSt-jeLLy/NakalTrade/internal/logging"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
	exactclient "github.com/juSt-jeLLy/NakalTrade/mechanisms/evm/exact/client"
	evmsigner "github.com/juSt-jeLLy/NakalTrade/signers/evm"
)

// Result is the JSON printed by fetch
type Result struct {
	Success         bool        `json:"success"`
	Data            interface{} `json:"data,omitempty"`
	StatusCode      int         `json:"status_code,omitempty"`
	PaymentResponse interface{} `json:"payment_response,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// errFetchFailed reports an unsuccessful fetch whose Result was already printed
var errFetchFailed = errors.New("fetch failed")

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes a subcommand and returns the process exit code. Deferred
// cleanup runs before main exits.
func run(argv []string) int {
	if len(argv) < 1 {
		usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := argv[1:]
	switch argv[0] {
	case "fetch":
		err = runFetch(ctx, cfg, logger, args)
	case "chat":
		err = runChat(ctx, cfg, logger, args)
	case "supported":
		err = runSupported(ctx, cfg, logger)
	case "balance":
		err = runBalance(ctx, cfg)
	case "wallet":
		err = runWallet()
	default:
		usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFetchFailed):
		return 1
	default:
		logger.Error("command failed", zap.String("command", argv[0]), zap.Error(err))
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: x402pay <fetch|chat|supported|balance|wallet> [flags]")
}

func newPayingClient(cfg *config.Config, logger *zap.Logger) (*x402http.HTTPClient, *evmsigner.ClientSigner, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}
	signer, err := evmsigner.NewClientSignerFromPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	scheme := exactclient.NewExactEvmScheme(signer)
	client := x402.Newx402Client().
		RegisterScheme("eip155:*", scheme).
		RegisterSchemeV1("eip155:*", scheme)

	client.OnAfterPaymentCreation(func(result x402.PaymentCreationResultContext) error {
		logger.Info("payment signed",
			zap.String("network", string(result.Requirements.Network)),
			zap.String("amount", result.Requirements.GetAmount()),
			zap.String("payTo", result.Requirements.PayTo),
		)
		return nil
	})

	return x402http.NewClient(client,
		x402http.WithLogger(logger),
		x402http.WithHTTPClient(&http.Client{Timeout: 2 * time.Minute}),
	), signer, nil
}

func runFetch(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	url := fs.String("url", cfg.ResourceURL, "resource URL")
	method := fs.String("method", http.MethodGet, "HTTP method")
	data := fs.String("data", "", "request body")
	contentType := fs.String("content-type", "application/json", "request content type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return errors.New("-url (or RESOURCE_URL) is required")
	}

	client, _, err := newPayingClient(cfg, logger)
	if err != nil {
		return printResult(Result{Error: err.Error()})
	}

	var body io.Reader
	if *data != "" {
		body = strings.NewReader(*data)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(*method), *url, body)
	if err != nil {
		return printResult(Result{Error: err.Error()})
	}
	if body != nil {
		req.Header.Set("Content-Type", *contentType)
	}

	result, err := client.DoWithPayment(ctx, req)
	if err != nil {
		out := Result{Error: err.Error()}
		var flowErr *x402http.PaymentFlowError
		if errors.As(err, &flowErr) && flowErr.Response != nil {
			out.StatusCode = flowErr.Response.StatusCode
		}
		return printResult(out)
	}
	defer result.Response.Body.Close()

	raw, err := io.ReadAll(result.Response.Body)
	if err != nil {
		return printResult(Result{Error: err.Error(), StatusCode: result.Response.StatusCode})
	}
	var responseData interface{}
	if err := json.Unmarshal(raw, &responseData); err != nil {
		responseData = string(raw)
	}

	out := Result{
		Success:    result.Response.StatusCode < http.StatusBadRequest,
		Data:       responseData,
		StatusCode: result.Response.StatusCode,
	}
	if result.Receipt != nil {
		out.PaymentResponse = result.Receipt
		out.Success = out.Success && result.Receipt.Success
	}
	return printResult(out)
}

func printResult(result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !result.Success {
		return errFetchFailed
	}
	return nil
}

func runChat(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	message := fs.String("m", "", "message to send")
	showMessages := fs.Bool("messages", false, "print the agent's message feed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := chat.NewClient(cfg.ChatURL, chat.WithLogger(logger))

	if *showMessages {
		messages, err := client.Messages(ctx)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Printf("[%s] %s: %s\n", m.Time().Format(time.RFC3339), m.AgentName, m.Message)
		}
		return nil
	}

	if *message == "" {
		*message = strings.Join(fs.Args(), " ")
	}
	reply, err := client.Send(ctx, *message)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func runSupported(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	facilitator := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{
		URL:    cfg.FacilitatorURL,
		Logger: logger,
	})

	if err := facilitator.Health(ctx); err != nil {
		return err
	}
	supported, err := facilitator.GetSupported(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(supported)
}

func runBalance(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	asset, err := evm.GetAssetInfo(cfg.Network, "")
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}
	defer eth.Close()

	signer, err := evmsigner.NewClientSignerFromPrivateKeyWithClient(cfg.PrivateKey, eth)
	if err != nil {
		return err
	}

	balance, err := signer.TokenBalance(dialCtx, asset.Address)
	if err != nil {
		return err
	}
	formatted, err := evm.FormatAmount(balance.String(), asset.Decimals)
	if err != nil {
		return err
	}

	fmt.Printf("address: %s\nnetwork: %s\nbalance: %s %s\n", signer.Address(), cfg.Network, formatted, asset.Name)
	return nil
}

func runWallet() error {
	signer, privateKey, err := evmsigner.GenerateClientSigner()
	if err != nil {
		return err
	}
	fmt.Printf("address:     %s\nprivate key: %s\n", signer.Address(), privateKey)
	fmt.Fprintln(os.Stderr, "Store the private key in PRIVATE_KEY and fund the address with testnet USDC.")
	return nil
}
