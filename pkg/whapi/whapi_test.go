package whapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string, retries int) *Client {
	return New(Config{
		GateURL:      url,
		ManagerURL:   url + "/",
		PartnerToken: "partner",
		Timeout:      2 * time.Second,
		Retries:      retries,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	})
}

func TestExtendSendsDaysWithPartnerToken(t *testing.T) {
	var got extendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/WH-1/extend" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer partner" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(srv.URL, 1).Extend(context.Background(), "WH-1", 1, "auto-extend"); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if got.Days != 1 || got.Comment != "auto-extend" {
		t.Fatalf("body = %+v", got)
	}
}

func TestLogoutRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(srv.URL, 3).Logout(context.Background(), "chan-token"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExtendDoesNotRetryServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 3).Extend(context.Background(), "WH-1", 1, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExtendDoesNotRetryAfterTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// The day is bought but the answer arrives too late.
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{
		ManagerURL:   srv.URL,
		PartnerToken: "partner",
		Timeout:      100 * time.Millisecond,
		Retries:      3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	})
	if err := c.Extend(context.Background(), "WH-1", 1, "auto-extend"); err == nil {
		t.Fatal("expected timeout error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestRetryable(t *testing.T) {
	dial := fmt.Errorf("whapi: POST /x: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	read := fmt.Errorf("whapi: POST /x: %w", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")})
	tests := []struct {
		name       string
		err        error
		idempotent bool
		want       bool
	}{
		{"dial idempotent", dial, true, true},
		{"dial once only", dial, false, true},
		{"read idempotent", read, true, true},
		{"read once only", read, false, false},
		{"deadline once only", context.DeadlineExceeded, false, false},
		{"429 once only", &APIError{StatusCode: http.StatusTooManyRequests}, false, true},
		{"503 idempotent", &APIError{StatusCode: http.StatusServiceUnavailable}, true, true},
		{"503 once only", &APIError{StatusCode: http.StatusServiceUnavailable}, false, false},
		{"404 idempotent", &APIError{StatusCode: http.StatusNotFound}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err, tt.idempotent); got != tt.want {
				t.Fatalf("retryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtendDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"channel not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 5).Extend(context.Background(), "WH-1", 1, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Temporary() {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExtendGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2).Extend(context.Background(), "WH-1", 1, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("err = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestExtendRequiresPartnerToken(t *testing.T) {
	c := New(Config{ManagerURL: "http://127.0.0.1:1"})
	if err := c.Extend(context.Background(), "WH-1", 1, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogoutUsesChannelToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/logout" || r.Header.Get("Authorization") != "Bearer chan-token" {
			t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	if err := c.Logout(context.Background(), "chan-token"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := c.Logout(context.Background(), " "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty token err = %v", err)
	}
}

func TestLoginQR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/users/login/rowdata" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","rowdata":"2@abc,def","expire":20}`))
	}))
	defer srv.Close()

	payload, err := testClient(srv.URL, 1).LoginQR(context.Background(), "chan-token")
	if err != nil {
		t.Fatalf("LoginQR: %v", err)
	}
	if payload != "2@abc,def" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestLoginQREmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"AUTH"}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL, 1).LoginQR(context.Background(), "chan-token"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
