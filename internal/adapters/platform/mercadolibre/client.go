package mercadolibre

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

// maxPDFSize is the documented fiscal document upload ceiling: 1 MB.
const maxPDFSize = 1 << 20

// placeholderAmount is emitted when the real order total cannot be
// resolved, so the order is not silently dropped.
var placeholderAmount = decimal.RequireFromString("0.01")

// HTTPClient interface allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the order.Adapter interface against the Mercado Libre
// API. One fiscal document is filed per pack, so group keys are pack ids.
type Client struct {
	baseURL            string
	sellerID           string
	httpClient         HTTPClient
	tokens             *TokenSource
	log                *slog.Logger
	placeholderEnabled bool
	now                func() time.Time
}

func NewClient(baseURL, sellerID string, httpClient HTTPClient, tokens *TokenSource, placeholderEnabled bool, log *slog.Logger) *Client {
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		sellerID:           sellerID,
		httpClient:         httpClient,
		tokens:             tokens,
		log:                log,
		placeholderEnabled: placeholderEnabled,
		now:                time.Now,
	}
}

func (c *Client) Platform() order.Platform {
	return order.PlatformMercadoLibre
}

// do executes an authenticated request. A 401 invalidates the cached token
// and retries once with a freshly refreshed one.
func (c *Client) do(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	req, err := build(token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.tokens.Invalidate()

	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	req, err = build(token)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		return req, nil
	})
}

type searchResult struct {
	ID          json.Number `json:"id"`
	DateCreated string      `json:"date_created"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type orderDetail struct {
	ID          json.Number `json:"id"`
	PackID      json.Number `json:"pack_id"`
	Total       json.Number `json:"total"`
	DateCreated string      `json:"date_created"`
}

// FetchOrders lists recent orders via /marketplace/orders/search, then
// resolves amount and pack id per order via /orders/{id}. The search result
// alone carries neither reliably.
func (c *Client) FetchOrders(ctx context.Context, since time.Time, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	url := fmt.Sprintf("%s/marketplace/orders/search?seller=%s&limit=%d&offset=0&sort=date_desc",
		c.baseURL, c.sellerID, limit)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order search returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	orders := make([]order.Order, 0, len(search.Results))
	for _, result := range search.Results {
		orderID := result.ID.String()
		if orderID == "" {
			continue
		}
		// The search window is the engine's idempotency concern; orders
		// older than since still come back from date_desc sorting.
		if created, ok := parseMLDate(result.DateCreated); ok && created.Before(since) {
			continue
		}

		o, ok := c.resolveOrder(ctx, orderID, result.DateCreated)
		if !ok {
			continue
		}
		orders = append(orders, o)
	}

	c.log.Debug("fetched mercado libre orders", "count", len(orders), "seller_id", c.sellerID)
	return orders, nil
}

// resolveOrder fills amount, pack id and date from the order detail. When
// the detail call fails the order is kept with the placeholder amount if
// the policy allows it, otherwise dropped.
func (c *Client) resolveOrder(ctx context.Context, orderID, searchDate string) (order.Order, bool) {
	o := order.Order{
		PlatformID:   orderID,
		ExternalID:   orderID,
		DocType:      order.DocTypeBoleta,
		Platform:     order.PlatformMercadoLibre,
		GroupKey:     orderID,
		DocumentDate: c.now(),
	}
	if created, ok := parseMLDate(searchDate); ok {
		o.DocumentDate = created
	}

	detail, err := c.getOrderDetail(ctx, orderID)
	if err != nil {
		if !c.placeholderEnabled {
			c.log.Warn("dropping order, detail unavailable and placeholder amounts disabled",
				"order_id", orderID, "error", err)
			return order.Order{}, false
		}
		c.log.Warn("order detail unavailable, emitting with placeholder amount",
			"order_id", orderID, "placeholder", placeholderAmount.String(), "error", err)
		o.Amount = placeholderAmount
		return o, true
	}

	amount := decimal.Zero
	if detail.Total.String() != "" {
		if parsed, err := decimal.NewFromString(detail.Total.String()); err == nil {
			amount = parsed
		}
	}
	if !amount.IsPositive() {
		if !c.placeholderEnabled {
			c.log.Warn("dropping order with non-positive total, placeholder amounts disabled",
				"order_id", orderID, "total", detail.Total.String())
			return order.Order{}, false
		}
		c.log.Warn("order total unresolved, emitting with placeholder amount",
			"order_id", orderID, "placeholder", placeholderAmount.String())
		amount = placeholderAmount
	}
	o.Amount = amount

	if packID := detail.PackID.String(); packID != "" {
		o.GroupKey = packID
	}
	if created, ok := parseMLDate(detail.DateCreated); ok {
		o.DocumentDate = created
	}
	return o, true
}

func (c *Client) getOrderDetail(ctx context.Context, orderID string) (*orderDetail, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/orders/%s", c.baseURL, orderID))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get order %s returned status %d", orderID, resp.StatusCode)
	}

	var detail orderDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &detail, nil
}

type fiscalDocumentsResponse struct {
	FiscalDocuments []json.RawMessage `json:"fiscal_documents"`
}

// VerifyDocument checks /packs/{id}/fiscal_documents. A 404 means the pack
// has no documents, not a failure.
func (c *Client) VerifyDocument(ctx context.Context, groupKey string) (order.VerifyStatus, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/packs/%s/fiscal_documents", c.baseURL, groupKey))
	if err != nil {
		return order.VerifyCheckFailed, fmt.Errorf("verify fiscal documents for pack %s: %w", groupKey, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return order.VerifyCheckFailed, fmt.Errorf("read fiscal documents response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return order.VerifyNotUploaded, nil
	}
	if resp.StatusCode != http.StatusOK {
		return order.VerifyCheckFailed, fmt.Errorf("fiscal documents for pack %s returned status %d", groupKey, resp.StatusCode)
	}

	var docs fiscalDocumentsResponse
	if err := json.Unmarshal(body, &docs); err != nil {
		return order.VerifyCheckFailed, fmt.Errorf("decode fiscal documents response: %w", err)
	}

	if len(docs.FiscalDocuments) > 0 {
		return order.VerifyUploaded, nil
	}
	return order.VerifyNotUploaded, nil
}

// ResolveGroupKey resolves the pack id for an order via /orders/{id}. A
// null pack id, or an unreachable detail, falls back to the order id.
func (c *Client) ResolveGroupKey(ctx context.Context, externalID string) (string, error) {
	detail, err := c.getOrderDetail(ctx, externalID)
	if err != nil {
		c.log.Warn("could not resolve pack id, using order id", "order_id", externalID, "error", err)
		return externalID, nil
	}
	if packID := detail.PackID.String(); packID != "" {
		return packID, nil
	}
	return externalID, nil
}

// UploadDocument files the PDF as a multipart fiscal document. The platform
// accepts one document per pack and at most 1 MB.
func (c *Client) UploadDocument(ctx context.Context, groupKey string, pdf []byte) (*order.UploadReceipt, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("upload fiscal document for pack %s: empty pdf", groupKey)
	}
	if len(pdf) > maxPDFSize {
		return nil, fmt.Errorf("upload fiscal document for pack %s: pdf exceeds %d bytes", groupKey, maxPDFSize)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="fiscal_document"; filename="documento.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("write pdf part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/packs/%s/fiscal_documents", c.baseURL, groupKey)
	resp, err := c.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload fiscal document for pack %s: %w", groupKey, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload fiscal document for pack %s: status %d: %s",
			groupKey, resp.StatusCode, truncate(string(body), 256))
	}

	c.log.Info("fiscal document uploaded to mercado libre", "pack_id", groupKey, "size", len(pdf))
	return &order.UploadReceipt{Response: string(body)}, nil
}

func parseMLDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-07:00",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
