package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateCheckoutSession_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/checkout/sessions" {
			t.Fatalf("path = %s, want /api/checkout/sessions", r.URL.Path)
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Mode != "payment" {
			t.Fatalf("mode = %s, want payment", req.Mode)
		}
		if len(req.LineItems) != 1 || req.LineItems[0].UnitAmount != 1000 {
			t.Fatalf("unexpected line items: %+v", req.LineItems)
		}
		if req.SuccessURL != "https://shop/order/success" {
			t.Fatalf("success url = %s", req.SuccessURL)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Session{ID: "sess_123", Status: "open"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	items := []SessionItem{
		{Description: "Punk IPA", UnitAmount: 1000, Quantity: 3},
	}

	id, err := client.CreateCheckoutSession(ctx, items, "https://shop/order/success", "https://shop/order/canceled")
	if err != nil {
		t.Fatalf("CreateCheckoutSession error: %v", err)
	}
	if id != "sess_123" {
		t.Fatalf("session id = %s, want sess_123", id)
	}
}

func TestCreateCheckoutSession_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.CreateCheckoutSession(context.Background(), nil, "s", "c")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("session creation retried: %d calls, want 1", got)
	}
}

func TestRetrieveSession_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/checkout/sessions/sess_123" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Session{ID: "sess_123", Status: "complete"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	session, err := client.RetrieveSession(context.Background(), "sess_123")
	if err != nil {
		t.Fatalf("RetrieveSession error: %v", err)
	}
	if session.Status != "complete" {
		t.Fatalf("status = %s, want complete", session.Status)
	}
}

func TestRetrieveSession_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.RetrieveSession(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListLineItems_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/checkout/sessions/sess_123/line_items" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []SessionItem{
				{Description: "Punk IPA", UnitAmount: 1000, Quantity: 3},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	items, err := client.ListLineItems(context.Background(), "sess_123")
	if err != nil {
		t.Fatalf("ListLineItems error: %v", err)
	}
	if len(items) != 1 || items[0].Description != "Punk IPA" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestListLineItems_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []SessionItem{}})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.ListLineItems(context.Background(), "sess_123")
	if err != nil {
		t.Fatalf("ListLineItems error: %v", err)
	}
	if got := calls.Load(); got < 2 {
		t.Fatalf("read call not retried: %d calls", got)
	}
}
