package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apphealth "facturacl/ms_facturacion_marketplace/internal/application/health"
	corehealth "facturacl/ms_facturacion_marketplace/internal/core/health"
)

func TestNewHandler(t *testing.T) {
	service := &apphealth.Service{}
	handler := NewHandler(service)

	if handler == nil {
		t.Fatal("expected handler to be created, got nil")
	}

	if handler.service != service {
		t.Error("expected handler to have the provided service")
	}
}

func TestHandler_Status(t *testing.T) {
	meta := apphealth.Metadata{
		Service:     "test-service",
		Version:     "1.0.0",
		Environment: "test",
	}

	service := apphealth.NewService(meta, nil)
	handler := NewHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Status(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var status corehealth.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if status.Service != "test-service" {
		t.Errorf("expected service 'test-service', got %q", status.Service)
	}
	if status.Status != "UP" {
		t.Errorf("expected status 'UP', got %q", status.Status)
	}
	if status.Database != "disabled" {
		t.Errorf("expected database 'disabled', got %q", status.Database)
	}
}
