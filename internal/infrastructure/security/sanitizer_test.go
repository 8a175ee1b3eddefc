package security

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestSanitizeHeaders(t *testing.T) {
	headers := http.Header{
		"Authorization": []string{"Bearer secret-token"},
		"Signature":     []string{"abcdef"},
		"User-Agent":    []string{"SELLER/Go/1/INVOICE_SYNC/FACL"},
		"Accept":        []string{"application/json", "text/plain"},
	}

	sanitized := SanitizeHeaders(headers)

	if sanitized["Authorization"] != redactedValue {
		t.Errorf("Authorization not redacted: %q", sanitized["Authorization"])
	}
	if sanitized["Signature"] != redactedValue {
		t.Errorf("Signature not redacted: %q", sanitized["Signature"])
	}
	if sanitized["User-Agent"] != "SELLER/Go/1/INVOICE_SYNC/FACL" {
		t.Errorf("User-Agent changed: %q", sanitized["User-Agent"])
	}
	if sanitized["Accept"] != "application/json, text/plain" {
		t.Errorf("multi-value header not joined: %q", sanitized["Accept"])
	}
}

func TestSanitizeBody_RedactsSensitiveFields(t *testing.T) {
	body := []byte(`{"client_secret":"shh","amount":"15990.00","nested":{"refresh_token":"rt","id":"7"}}`)

	result := SanitizeBody(body, 0)

	var parsed map[string]any
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if parsed["client_secret"] != redactedValue {
		t.Errorf("client_secret not redacted: %v", parsed["client_secret"])
	}
	if parsed["amount"] != "15990.00" {
		t.Errorf("amount changed: %v", parsed["amount"])
	}
	nested := parsed["nested"].(map[string]any)
	if nested["refresh_token"] != redactedValue {
		t.Errorf("nested refresh_token not redacted: %v", nested["refresh_token"])
	}
}

func TestSanitizeBody_BinaryPayload(t *testing.T) {
	pdf := []byte{0x25, 0x50, 0x44, 0x46, 0xff, 0xfe, 0x00, 0x01}

	result := SanitizeBody(pdf, 0)

	var parsed map[string]any
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if parsed["_binary"] != true {
		t.Error("binary payload not marked")
	}
	if int(parsed["_size"].(float64)) != len(pdf) {
		t.Errorf("size mismatch: %v", parsed["_size"])
	}
}

func TestSanitizeBody_Truncation(t *testing.T) {
	body := []byte(strings.Repeat("a", 100))

	result := SanitizeBody(body, 10)

	var parsed map[string]any
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if parsed["_truncated"] != true {
		t.Error("oversized body not truncated")
	}
	if parsed["_preview"] != strings.Repeat("a", 10) {
		t.Errorf("unexpected preview: %v", parsed["_preview"])
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "signature redacted",
			in:   "https://sellercenter-api.falabella.com/?Action=GetOrders&Signature=deadbeef",
			want: redactedValue,
		},
		{
			name: "access token redacted",
			in:   "https://api.mercadolibre.com/orders/search?access_token=abc123",
			want: redactedValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeURL(tt.in)
			if !strings.Contains(got, tt.want) {
				t.Errorf("SanitizeURL(%q) = %q, want it to contain %q", tt.in, got, tt.want)
			}
			if strings.Contains(got, "deadbeef") || strings.Contains(got, "abc123") {
				t.Errorf("sensitive value leaked: %q", got)
			}
			if strings.Contains(got, "%5BREDACTED%5D") {
				t.Errorf("placeholder left percent-encoded: %q", got)
			}
		})
	}

	clean := "https://api.mercadolibre.com/orders/123"
	if got := SanitizeURL(clean); got != clean {
		t.Errorf("clean URL modified: %q", got)
	}
}
