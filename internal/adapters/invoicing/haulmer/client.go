package haulmer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"facturacl/ms_facturacion_marketplace/internal/core/invoicing"
	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

// maxDownloadSize caps PDF downloads. Marketplace uploads reject anything
// near this size anyway.
const maxDownloadSize = 10 << 20

// HTTPClient interface allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the invoicing.Provider interface against the Haulmer
// OpenFactura API. One client is built per account because the API key is
// an account credential.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	log        *slog.Logger
	breaker    *CircuitBreaker
}

func NewClient(baseURL, apiKey string, httpClient HTTPClient, breaker *CircuitBreaker, log *slog.Logger) invoicing.Provider {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		log:        log,
		breaker:    breaker,
	}
}

type emitPayload struct {
	Tipo        string  `json:"tipo"`
	Folio       *int    `json:"folio"`
	Descripcion string  `json:"descripcion"`
	Monto       float64 `json:"monto"`
}

type emitResponse struct {
	PDFURL string `json:"pdf_url"`
	PDF    string `json:"pdf"`
	XMLURL string `json:"xml_url"`
	XML    string `json:"xml"`
}

// Emit issues one tax document. It never retries: a duplicate emission is a
// real tax document, so re-attempts are decided at the Sale level.
func (c *Client) Emit(ctx context.Context, req invoicing.EmitRequest) (*invoicing.EmitResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("emit %s: amount must be positive, got %s", req.ExternalID, req.Amount)
	}

	tipo := "factura"
	if req.DocType == order.DocTypeBoleta {
		tipo = "boleta"
	}

	// Haulmer expects the amount as a JSON number with 2 decimal places.
	payload := emitPayload{
		Tipo:        tipo,
		Descripcion: fmt.Sprintf("Venta %s", req.ExternalID),
		Monto:       req.Amount.Round(2).InexactFloat64(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal emit payload: %w", err)
	}

	url := fmt.Sprintf("%s/v2/dte/document", c.baseURL)

	var result *invoicing.EmitResult
	execErr := c.breaker.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
		httpReq.Header.Set("Content-Type", "application/json")

		c.log.Debug("emitting tax document",
			"external_id", req.ExternalID,
			"doc_type", req.DocType,
			"amount", req.Amount.Round(2).String(),
		)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("haulmer returned status %d: %s", resp.StatusCode, truncate(string(respBody), 512))
		}

		var emitResp emitResponse
		if err := json.Unmarshal(respBody, &emitResp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		pdfURL := emitResp.PDFURL
		if pdfURL == "" {
			pdfURL = emitResp.PDF
		}
		xmlURL := emitResp.XMLURL
		if xmlURL == "" {
			xmlURL = emitResp.XML
		}

		result = &invoicing.EmitResult{
			PDFURL: pdfURL,
			XMLURL: xmlURL,
			Raw:    string(respBody),
		}
		return nil
	})
	if execErr != nil {
		return nil, execErr
	}

	c.log.Info("tax document emitted",
		"external_id", req.ExternalID,
		"doc_type", req.DocType,
		"pdf_url", result.PDFURL,
	)
	return result, nil
}

// Download fetches an emitted artifact, typically the PDF referenced by an
// EmitResult, for upload to a marketplace.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDownloadSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("document body is empty")
	}

	return data, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
