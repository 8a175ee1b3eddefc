package testutil

import (
	"context"

	"facturacl/ms_facturacion_marketplace/internal/core/invoicing"
)

// MockProvider is a mock implementation of invoicing.Provider for testing.
type MockProvider struct {
	EmitFunc     func(ctx context.Context, req invoicing.EmitRequest) (*invoicing.EmitResult, error)
	DownloadFunc func(ctx context.Context, url string) ([]byte, error)

	// EmitCalls records every emission request, in order.
	EmitCalls []invoicing.EmitRequest
}

// Emit records the call, then delegates to the mock function if set.
func (m *MockProvider) Emit(ctx context.Context, req invoicing.EmitRequest) (*invoicing.EmitResult, error) {
	m.EmitCalls = append(m.EmitCalls, req)
	if m.EmitFunc != nil {
		return m.EmitFunc(ctx, req)
	}
	return &invoicing.EmitResult{
		PDFURL: "https://cdn.example.com/" + req.ExternalID + ".pdf",
		XMLURL: "https://cdn.example.com/" + req.ExternalID + ".xml",
		Raw:    `{"status":"ok"}`,
	}, nil
}

// Download calls the mock function if set, otherwise returns a small PDF stub.
func (m *MockProvider) Download(ctx context.Context, url string) ([]byte, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, url)
	}
	return []byte("%PDF-1.4 stub"), nil
}
