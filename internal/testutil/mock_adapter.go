package testutil

import (
	"context"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

// MockAdapter is a mock implementation of order.Adapter for testing.
type MockAdapter struct {
	PlatformValue    order.Platform
	FetchOrdersFunc  func(ctx context.Context, since time.Time, limit int) ([]order.Order, error)
	VerifyFunc       func(ctx context.Context, groupKey string) (order.VerifyStatus, error)
	ResolveGroupFunc func(ctx context.Context, externalID string) (string, error)
	UploadFunc       func(ctx context.Context, groupKey string, pdf []byte) (*order.UploadReceipt, error)
}

func (m *MockAdapter) Platform() order.Platform {
	if m.PlatformValue != "" {
		return m.PlatformValue
	}
	return order.PlatformFalabella
}

// FetchOrders calls the mock function if set, otherwise returns an empty slice.
func (m *MockAdapter) FetchOrders(ctx context.Context, since time.Time, limit int) ([]order.Order, error) {
	if m.FetchOrdersFunc != nil {
		return m.FetchOrdersFunc(ctx, since, limit)
	}
	return []order.Order{}, nil
}

// VerifyDocument calls the mock function if set, otherwise reports nothing uploaded.
func (m *MockAdapter) VerifyDocument(ctx context.Context, groupKey string) (order.VerifyStatus, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, groupKey)
	}
	return order.VerifyNotUploaded, nil
}

// ResolveGroupKey calls the mock function if set, otherwise returns the id unchanged.
func (m *MockAdapter) ResolveGroupKey(ctx context.Context, externalID string) (string, error) {
	if m.ResolveGroupFunc != nil {
		return m.ResolveGroupFunc(ctx, externalID)
	}
	return externalID, nil
}

// UploadDocument calls the mock function if set, otherwise reports success.
func (m *MockAdapter) UploadDocument(ctx context.Context, groupKey string, pdf []byte) (*order.UploadReceipt, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, groupKey, pdf)
	}
	return &order.UploadReceipt{Response: "ok"}, nil
}
