package seatapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ziling35/accountpool/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.SeatConfig{BaseURL: server.URL, Timeout: 2 * time.Second})
}

func TestLoginAndCreateAPIKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/login":
			w.Write([]byte(`{"token":"tok-1"}`))
		case "/v1/api-keys":
			w.Write([]byte(`{"api_key":"ak-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	apiKey, err := client.LoginAndCreateAPIKey(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if apiKey != "ak-1" {
		t.Fatalf("expected api key ak-1, got %q", apiKey)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Login(context.Background(), "a@example.com", "bad")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Kind != KindInvalidCredentials {
		t.Fatalf("expected kind %s, got %s", KindInvalidCredentials, authErr.Kind)
	}
	if authErr.Retryable() {
		t.Fatalf("expected invalid credentials to be non-retryable")
	}
}

func TestCredits(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ak-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"credits":42}`))
	}))

	credits, err := client.Credits(context.Background(), "ak-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if credits != 42 {
		t.Fatalf("expected 42 credits, got %d", credits)
	}
}

func TestCredits_MalformedResponse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"balance":42}`))
	}))

	_, err := client.Credits(context.Background(), "ak-1")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Kind != KindMalformedResponse {
		t.Fatalf("expected kind %s, got %s", KindMalformedResponse, authErr.Kind)
	}
}

func TestNetworkFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := NewClient(config.SeatConfig{BaseURL: server.URL, Timeout: time.Second})
	server.Close()

	_, err := client.Credits(context.Background(), "ak-1")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !authErr.Retryable() {
		t.Fatalf("expected network failure to be retryable")
	}
}
