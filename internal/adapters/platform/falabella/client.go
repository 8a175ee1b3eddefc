package falabella

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

const apiVersion = "1.0"

// maxPDFSize keeps the base64-expanded SetInvoicePDF payload under the
// request budget of roughly 4 MB.
const maxPDFSize = 3 << 20

// HTTPClient interface allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the order.Adapter interface against the Falabella
// Seller Center API. Credentials are per account: userID is the Seller
// Center email, apiKey signs every request.
type Client struct {
	baseURL      string
	userID       string
	apiKey       string
	operatorCode string
	userAgent    string
	httpClient   HTTPClient
	log          *slog.Logger
	now          func() time.Time
}

func NewClient(baseURL, userID, apiKey, operatorCode, userAgent string, httpClient HTTPClient, log *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		userID:       strings.TrimSpace(userID),
		apiKey:       apiKey,
		operatorCode: operatorCode,
		userAgent:    userAgent,
		httpClient:   httpClient,
		log:          log,
		now:          time.Now,
	}
}

func (c *Client) Platform() order.Platform {
	return order.PlatformFalabella
}

// flexString tolerates the API's JSON-from-XML habit of emitting the same
// field as a string in one response and a number in another.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type falabellaOrder struct {
	OrderID   flexString `json:"OrderId"`
	Price     flexString `json:"Price"`
	CreatedAt flexString `json:"CreatedAt"`
	OrderDate flexString `json:"OrderDate"`
}

// orderList absorbs the single-object-vs-list ambiguity of the Orders
// container.
type orderList []falabellaOrder

func (l *orderList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []falabellaOrder
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single falabellaOrder
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*l = orderList{single}
	return nil
}

type ordersBody struct {
	Body struct {
		Orders struct {
			Order orderList `json:"Order"`
		} `json:"Orders"`
		Order orderList `json:"Order"`
	} `json:"Body"`
}

type falabellaOrderItem struct {
	OrderItemID   flexString `json:"OrderItemId"`
	InvoiceNumber flexString `json:"InvoiceNumber"`
}

type orderItemList []falabellaOrderItem

func (l *orderItemList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []falabellaOrderItem
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single falabellaOrderItem
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*l = orderItemList{single}
	return nil
}

type orderItemsBody struct {
	Body struct {
		OrderItems struct {
			OrderItem orderItemList `json:"OrderItem"`
		} `json:"OrderItems"`
	} `json:"Body"`
}

type errorEnvelope struct {
	Head struct {
		ErrorCode    string `json:"ErrorCode"`
		ErrorMessage string `json:"ErrorMessage"`
	} `json:"Head"`
}

type envelope struct {
	SuccessResponse json.RawMessage `json:"SuccessResponse"`
	ErrorResponse   *errorEnvelope  `json:"ErrorResponse"`
}

func (c *Client) baseParams(action string) map[string]string {
	return map[string]string{
		"Action":    action,
		"Format":    "JSON",
		"Timestamp": isoTimestamp(c.now()),
		"UserID":    c.userID,
		"Version":   apiVersion,
	}
}

// request executes a signed Seller Center call. The Signature parameter is
// computed over the sorted params and appended to the query string.
func (c *Client) request(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	signature := buildSignature(params, c.apiKey)

	// The query uses the same encoding as the signature, so sorting keeps
	// both representations identical.
	pairs := make([]string, 0, len(params)+1)
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, rfc3986Encode(k)+"="+rfc3986Encode(params[k]))
	}
	pairs = append(pairs, "Signature="+signature)
	query := strings.Join(pairs, "&")

	url := fmt.Sprintf("%s/?%s", c.baseURL, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.ErrorResponse != nil {
		return nil, fmt.Errorf("seller center error %s: %s",
			env.ErrorResponse.Head.ErrorCode, env.ErrorResponse.Head.ErrorMessage)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("seller center returned status %d", resp.StatusCode)
	}
	if env.SuccessResponse != nil {
		return env.SuccessResponse, nil
	}
	return body, nil
}

// FetchOrders queries GetOrders for orders created or updated at or after
// since. The API rejects open-ended queries, so since is always sent.
func (c *Client) FetchOrders(ctx context.Context, since time.Time, limit int) ([]order.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	params := c.baseParams("GetOrders")
	params["CreatedAfter"] = isoTimestamp(since)
	params["UpdatedAfter"] = isoTimestamp(since)
	params["Limit"] = fmt.Sprintf("%d", limit)
	params["Offset"] = "0"

	raw, err := c.request(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	var body ordersBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode orders body: %w", err)
	}

	rawOrders := body.Body.Orders.Order
	if len(rawOrders) == 0 {
		rawOrders = body.Body.Order
	}

	orders := make([]order.Order, 0, len(rawOrders))
	for _, fo := range rawOrders {
		id := strings.TrimSpace(string(fo.OrderID))
		if id == "" {
			c.log.Warn("skipping order without OrderId")
			continue
		}

		amount := decimal.Zero
		if price := strings.TrimSpace(string(fo.Price)); price != "" {
			parsed, err := decimal.NewFromString(price)
			if err != nil {
				c.log.Warn("unparseable order price", "order_id", id, "price", price)
			} else {
				amount = parsed
			}
		}

		created := string(fo.CreatedAt)
		if created == "" {
			created = string(fo.OrderDate)
		}

		orders = append(orders, order.Order{
			PlatformID:   id,
			ExternalID:   id,
			Amount:       amount,
			DocType:      order.DocTypeBoleta,
			Platform:     order.PlatformFalabella,
			DocumentDate: parseOrderDate(created, c.now()),
			GroupKey:     id,
		})
	}

	c.log.Debug("fetched seller center orders", "count", len(orders), "since", isoTimestamp(since))
	return orders, nil
}

// VerifyDocument checks whether a tax document is already filed for the
// order by inspecting its items: Seller Center stamps InvoiceNumber on each
// item once a document is uploaded.
func (c *Client) VerifyDocument(ctx context.Context, groupKey string) (order.VerifyStatus, error) {
	items, err := c.fetchOrderItems(ctx, groupKey)
	if err != nil {
		return order.VerifyCheckFailed, fmt.Errorf("verify document for order %s: %w", groupKey, err)
	}

	for _, item := range items {
		if strings.TrimSpace(string(item.InvoiceNumber)) != "" {
			return order.VerifyUploaded, nil
		}
	}
	return order.VerifyNotUploaded, nil
}

// ResolveGroupKey is the identity for Falabella: documents are filed per
// order, there is no pack-style grouping.
func (c *Client) ResolveGroupKey(ctx context.Context, externalID string) (string, error) {
	return externalID, nil
}

type invoicePDFBody struct {
	OrderItemIDs          []string `json:"orderItemIds"`
	InvoiceNumber         string   `json:"invoiceNumber"`
	InvoiceDate           string   `json:"invoiceDate"`
	InvoiceType           string   `json:"invoiceType"`
	OperatorCode          string   `json:"operatorCode"`
	InvoiceDocumentFormat string   `json:"invoiceDocumentFormat"`
	InvoiceDocument       string   `json:"invoiceDocument"`
}

// UploadDocument files the PDF through SetInvoicePDF. Unlike the query API,
// this endpoint signs the common parameters into the request headers and
// takes a JSON body with the document base64 encoded. Orders fetched from
// Seller Center are always boletas.
func (c *Client) UploadDocument(ctx context.Context, groupKey string, pdf []byte) (*order.UploadReceipt, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("upload document for order %s: empty pdf", groupKey)
	}
	if len(pdf) > maxPDFSize {
		return nil, fmt.Errorf("upload document for order %s: pdf exceeds %d bytes", groupKey, maxPDFSize)
	}

	items, err := c.fetchOrderItems(ctx, groupKey)
	if err != nil {
		return nil, fmt.Errorf("resolve order items for %s: %w", groupKey, err)
	}
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		if id := strings.TrimSpace(string(item.OrderItemID)); id != "" {
			itemIDs = append(itemIDs, id)
		}
	}
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("upload document for order %s: order has no items", groupKey)
	}

	params := map[string]string{
		"Action":    "SetInvoicePDF",
		"Format":    "JSON",
		"Service":   "Invoice",
		"Timestamp": isoTimestamp(c.now()),
		"UserID":    c.userID,
		"Version":   apiVersion,
	}
	signature := buildSignature(params, c.apiKey)

	payload := invoicePDFBody{
		OrderItemIDs:          itemIDs,
		InvoiceNumber:         groupKey,
		InvoiceDate:           c.now().UTC().Format("2006-01-02"),
		InvoiceType:           "BOLETA",
		OperatorCode:          strings.ToUpper(c.operatorCode),
		InvoiceDocumentFormat: "pdf",
		InvoiceDocument:       base64.StdEncoding.EncodeToString(pdf),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/marketplace-sellers/invoice/pdf", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range params {
		req.Header.Set(k, v)
	}
	req.Header.Set("Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("set invoice pdf for order %s: status %d: %s",
			groupKey, resp.StatusCode, extractErrorMessage(respBody))
	}

	c.log.Info("tax document uploaded to seller center", "order_id", groupKey, "items", len(itemIDs))
	return &order.UploadReceipt{Response: string(respBody)}, nil
}

func (c *Client) fetchOrderItems(ctx context.Context, orderID string) ([]falabellaOrderItem, error) {
	params := c.baseParams("GetOrderItems")
	params["OrderId"] = orderID

	raw, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}

	var body orderItemsBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode order items body: %w", err)
	}
	return body.Body.OrderItems.OrderItem, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseOrderDate(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func extractErrorMessage(body []byte) string {
	var generic struct {
		Message      string `json:"message"`
		ErrorMessage string `json:"ErrorMessage"`
	}
	if err := json.Unmarshal(body, &generic); err == nil {
		if generic.Message != "" {
			return generic.Message
		}
		if generic.ErrorMessage != "" {
			return generic.ErrorMessage
		}
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
