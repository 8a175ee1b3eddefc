package mercadolibre

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
	"facturacl/ms_facturacion_marketplace/internal/testutil"
)

func newTestTokenSource(baseURL string, httpClient *http.Client, persist PersistTokensFunc) *TokenSource {
	return NewTokenSource(baseURL, "app-id", "app-secret", "APP_USR-valid", "TG-refresh", httpClient, persist, testutil.NewTestLogger())
}

func newMLTestClient(serverURL string, httpClient *http.Client, placeholder bool) *Client {
	tokens := newTestTokenSource(serverURL, httpClient, nil)
	return NewClient(serverURL, "123456", httpClient, tokens, placeholder, testutil.NewTestLogger())
}

func TestClient_FetchOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer APP_USR-valid" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}

		switch {
		case r.URL.Path == "/marketplace/orders/search":
			if r.URL.Query().Get("seller") != "123456" {
				t.Errorf("expected seller id in query, got %q", r.URL.Query().Get("seller"))
			}
			w.Write([]byte(`{"results":[
				{"id":9001,"date_created":"2024-05-01T10:00:00.000-04:00"},
				{"id":9002,"date_created":"2024-05-01T11:00:00.000-04:00"},
				{"id":9003,"date_created":"2024-01-01T00:00:00.000-04:00"}
			]}`))
		case r.URL.Path == "/orders/9001":
			w.Write([]byte(`{"id":9001,"pack_id":777001,"total":25990.5,"date_created":"2024-05-01T10:00:00.000-04:00"}`))
		case r.URL.Path == "/orders/9002":
			w.Write([]byte(`{"id":9002,"pack_id":null,"total":0,"date_created":"2024-05-01T11:00:00.000-04:00"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newMLTestClient(server.URL, server.Client(), true)

	since := time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC)
	orders, err := client.FetchOrders(context.Background(), since, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 9003 is older than since and never resolved.
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	first := orders[0]
	if first.ExternalID != "9001" {
		t.Errorf("unexpected external id %q", first.ExternalID)
	}
	if first.Amount.String() != "25990.5" {
		t.Errorf("unexpected amount %s", first.Amount)
	}
	if first.GroupKey != "777001" {
		t.Errorf("expected pack id as group key, got %q", first.GroupKey)
	}
	if first.Platform != order.PlatformMercadoLibre {
		t.Errorf("unexpected platform %q", first.Platform)
	}

	second := orders[1]
	if second.Amount.String() != "0.01" {
		t.Errorf("expected placeholder amount for zero total, got %s", second.Amount)
	}
	if second.GroupKey != "9002" {
		t.Errorf("null pack id should fall back to order id, got %q", second.GroupKey)
	}
}

func TestClient_FetchOrders_PlaceholderDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/marketplace/orders/search":
			w.Write([]byte(`{"results":[{"id":9002,"date_created":"2024-05-01T11:00:00.000-04:00"}]}`))
		case r.URL.Path == "/orders/9002":
			w.Write([]byte(`{"id":9002,"total":0}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newMLTestClient(server.URL, server.Client(), false)

	orders, err := client.FetchOrders(context.Background(), time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected unresolvable order to be dropped, got %d orders", len(orders))
	}
}

func TestClient_FetchOrders_DetailFailureUsesPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/marketplace/orders/search":
			w.Write([]byte(`{"results":[{"id":9005,"date_created":"2024-05-01T11:00:00.000-04:00"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newMLTestClient(server.URL, server.Client(), true)

	orders, err := client.FetchOrders(context.Background(), time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected order kept with placeholder, got %d", len(orders))
	}
	if orders[0].Amount.String() != "0.01" {
		t.Errorf("expected placeholder amount, got %s", orders[0].Amount)
	}
	if orders[0].GroupKey != "9005" {
		t.Errorf("expected order id group key, got %q", orders[0].GroupKey)
	}
}

func TestClient_VerifyDocument(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    order.VerifyStatus
		wantErr bool
	}{
		{
			name:   "documents present",
			status: http.StatusOK,
			body:   `{"fiscal_documents":[{"id":"doc-1"}],"pack_id":777001}`,
			want:   order.VerifyUploaded,
		},
		{
			name:   "empty list",
			status: http.StatusOK,
			body:   `{"fiscal_documents":[]}`,
			want:   order.VerifyNotUploaded,
		},
		{
			name:   "pack not found means nothing uploaded",
			status: http.StatusNotFound,
			body:   `{"message":"pack not found"}`,
			want:   order.VerifyNotUploaded,
		},
		{
			name:    "server error means check failed",
			status:  http.StatusForbidden,
			body:    `{"message":"forbidden"}`,
			want:    order.VerifyCheckFailed,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/packs/777001/fiscal_documents" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newMLTestClient(server.URL, server.Client(), true)

			got, err := client.VerifyDocument(context.Background(), "777001")
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if tt.wantErr && err == nil {
				t.Error("expected an error alongside CheckFailed")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_ResolveGroupKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/9001":
			w.Write([]byte(`{"id":9001,"pack_id":777001}`))
		case "/orders/9002":
			w.Write([]byte(`{"id":9002,"pack_id":null}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newMLTestClient(server.URL, server.Client(), true)

	tests := []struct {
		orderID string
		want    string
	}{
		{"9001", "777001"},
		{"9002", "9002"},
		{"9999", "9999"}, // detail unreachable falls back to order id
	}

	for _, tt := range tests {
		got, err := client.ResolveGroupKey(context.Background(), tt.orderID)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.orderID, err)
		}
		if got != tt.want {
			t.Errorf("ResolveGroupKey(%s) = %q, want %q", tt.orderID, got, tt.want)
		}
	}
}

func TestClient_UploadDocument(t *testing.T) {
	pdf := []byte("%PDF-1.4 documento")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/packs/777001/fiscal_documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		if err := r.ParseMultipartForm(maxPDFSize); err != nil {
			t.Fatalf("parse multipart form: %v", err)
		}
		file, header, err := r.FormFile("fiscal_document")
		if err != nil {
			t.Fatalf("missing fiscal_document part: %v", err)
		}
		defer file.Close()

		if header.Filename != "documento.pdf" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != string(pdf) {
			t.Error("uploaded pdf does not round-trip")
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "fd-1"})
	}))
	defer server.Close()

	client := newMLTestClient(server.URL, server.Client(), true)

	receipt, err := client.UploadDocument(context.Background(), "777001", pdf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(receipt.Response, "fd-1") {
		t.Errorf("receipt should keep the platform response, got %q", receipt.Response)
	}
}

func TestClient_UploadDocument_SizeCeiling(t *testing.T) {
	client := newMLTestClient("https://unused.example.com", &http.Client{}, true)

	big := make([]byte, maxPDFSize+1)
	if _, err := client.UploadDocument(context.Background(), "777001", big); err == nil {
		t.Error("expected error for pdf over 1 MB")
	}

	if _, err := client.UploadDocument(context.Background(), "777001", nil); err == nil {
		t.Error("expected error for empty pdf")
	}
}

func TestClient_RefreshesTokenOn401(t *testing.T) {
	var persistedAccess, persistedRefresh string
	calls := 0

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("grant_type") != "refresh_token" {
				t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
			}
			if r.PostForm.Get("refresh_token") != "TG-refresh" {
				t.Errorf("unexpected refresh_token %q", r.PostForm.Get("refresh_token"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "APP_USR-rotated",
				"refresh_token": "TG-rotated",
				"expires_in":    21600,
			})
		case "/packs/777001/fiscal_documents":
			calls++
			if r.Header.Get("Authorization") == "Bearer APP_USR-rotated" {
				w.Write([]byte(`{"fiscal_documents":[]}`))
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	persist := func(ctx context.Context, access, refresh string) error {
		persistedAccess, persistedRefresh = access, refresh
		return nil
	}
	tokens := NewTokenSource(server.URL, "app-id", "app-secret", "APP_USR-stale", "TG-refresh", server.Client(), persist, testutil.NewTestLogger())
	client := NewClient(server.URL, "123456", server.Client(), tokens, true, testutil.NewTestLogger())

	status, err := client.VerifyDocument(context.Background(), "777001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != order.VerifyNotUploaded {
		t.Errorf("expected NotUploaded after retry, got %v", status)
	}
	if calls != 2 {
		t.Errorf("expected the request to be retried once, got %d calls", calls)
	}
	if persistedAccess != "APP_USR-rotated" || persistedRefresh != "TG-rotated" {
		t.Errorf("rotated tokens not persisted: %q / %q", persistedAccess, persistedRefresh)
	}

	// Subsequent calls reuse the cached rotated token.
	if _, err := client.VerifyDocument(context.Background(), "777001"); err != nil {
		t.Fatalf("unexpected error on cached token: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected no extra auth roundtrip, got %d calls", calls)
	}
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	tokens := newTestTokenSource(server.URL, server.Client(), nil)

	if _, err := tokens.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for rejected refresh")
	}
	if !strings.Contains(fmt.Sprint(tokens.refreshToken), "TG-refresh") {
		t.Error("failed refresh must not drop the stored refresh token")
	}
}

func TestTokenSource_NoRefreshToken(t *testing.T) {
	tokens := NewTokenSource("https://unused.example.com", "id", "secret", "", "", &http.Client{}, nil, testutil.NewTestLogger())

	if _, err := tokens.Token(context.Background()); err == nil {
		t.Fatal("expected error when no tokens are available")
	}
}
