// Package chat is a client for the NakalTrade agent REST surface.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is where a locally running agent listens
const DefaultURL = "http://localhost:8100"

// Message is one entry of the agent's message feed
type Message struct {
	AgentName string  `json:"agent_name"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// Time converts the unix timestamp of the message
func (m Message) Time() time.Time {
	sec := int64(m.Timestamp)
	return time.Unix(sec, int64((m.Timestamp-float64(sec))*1e9))
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

// StatusError is returned when the agent answers with a non-2xx status
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client talks to a NakalTrade agent
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. A payment-wrapped client
// from the x402 http package can be passed here.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the agent at url; empty url uses DefaultURL
func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the agent base URL
func (c *Client) URL() string {
	return c.url
}

// Send posts a chat message and returns the agent's reply
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is empty")
	}

	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var response chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", body, &response); err != nil {
		return "", err
	}
	c.logger.Debug("agent replied", zap.Int("length", len(response.Response)))
	return response.Response, nil
}

// Messages returns the agent's recent messages, oldest first
func (c *Client) Messages(ctx context.Context) ([]Message, error) {
	var response messagesResponse
	if err := c.do(ctx, http.MethodGet, "/agent_messages", nil, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

// Health probes the agent and returns its status line
func (c *Client) Health(ctx context.Context) (string, error) {
	var response chatResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &response); err != nil {
		return "", err
	}
	return response.Response, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("agent request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
