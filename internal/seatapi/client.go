// Package seatapi talks to the external auth/seat service that issues
// login tokens, API keys, and credit balances for pooled accounts.
package seatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ziling35/accountpool/internal/config"
)

const defaultRequestTimeout = 15 * time.Second

// Service is the seat service surface consumed by the allocator and the
// credit monitor.
type Service interface {
	// Login exchanges credentials for a short-lived token.
	Login(ctx context.Context, email, password string) (string, error)
	// ExchangeAPIKey converts a login token into a durable API key.
	ExchangeAPIKey(ctx context.Context, token string) (string, error)
	// Credits returns the remaining credit balance for an API key or token.
	Credits(ctx context.Context, apiKeyOrToken string) (int, error)
	// LoginAndCreateAPIKey runs the login/exchange flow in one call.
	LoginAndCreateAPIKey(ctx context.Context, email, password string) (string, error)
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs a seat service client from config.
func NewClient(cfg config.SeatConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for a short-lived token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/login", payload, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", newAuthError(KindMalformedResponse, "login response missing token", nil)
	}
	return out.Token, nil
}

// ExchangeAPIKey converts a login token into a durable API key.
func (c *Client) ExchangeAPIKey(ctx context.Context, token string) (string, error) {
	payload := map[string]string{"token": token}
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/api-keys", payload, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.APIKey) == "" {
		return "", newAuthError(KindMalformedResponse, "exchange response missing api key", nil)
	}
	return out.APIKey, nil
}

// Credits returns the remaining credit balance for an API key or token.
func (c *Client) Credits(ctx context.Context, apiKeyOrToken string) (int, error) {
	req, errBuild := c.newRequest(ctx, http.MethodGet, "/v1/credits", nil)
	if errBuild != nil {
		return 0, errBuild
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKeyOrToken))

	resp, errDo := c.client.Do(req)
	if errDo != nil {
		return 0, newAuthError(KindNetwork, "credits request failed", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if errStatus := classifyStatus(resp.StatusCode); errStatus != nil {
		return 0, errStatus
	}

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return 0, newAuthError(KindNetwork, "read credits response", errRead)
	}
	var out struct {
		Credits *int `json:"credits"`
	}
	if errUnmarshal := json.Unmarshal(body, &out); errUnmarshal != nil || out.Credits == nil {
		return 0, newAuthError(KindMalformedResponse, "credits response missing balance", errUnmarshal)
	}
	return *out.Credits, nil
}

// LoginAndCreateAPIKey runs the full login → exchange flow.
func (c *Client) LoginAndCreateAPIKey(ctx context.Context, email, password string) (string, error) {
	token, errLogin := c.Login(ctx, email, password)
	if errLogin != nil {
		return "", errLogin
	}
	return c.ExchangeAPIKey(ctx, token)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c == nil || strings.TrimSpace(c.baseURL) == "" {
		return nil, fmt.Errorf("seatapi: missing base url")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, errBuild := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if errBuild != nil {
		return nil, fmt.Errorf("seatapi: build request: %w", errBuild)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	data, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return fmt.Errorf("seatapi: marshal payload: %w", errMarshal)
	}
	req, errBuild := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if errBuild != nil {
		return errBuild
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := c.client.Do(req)
	if errDo != nil {
		return newAuthError(KindNetwork, "request failed", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if errStatus := classifyStatus(resp.StatusCode); errStatus != nil {
		return errStatus
	}

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return newAuthError(KindNetwork, "read response", errRead)
	}
	if errUnmarshal := json.Unmarshal(body, out); errUnmarshal != nil {
		return newAuthError(KindMalformedResponse, "decode response", errUnmarshal)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newAuthError(KindInvalidCredentials, fmt.Sprintf("status %d", code), nil)
	case code == http.StatusNotFound:
		return newAuthError(KindUnregisteredEmail, fmt.Sprintf("status %d", code), nil)
	default:
		return newAuthError(KindNetwork, fmt.Sprintf("unexpected status %d", code), nil)
	}
}
