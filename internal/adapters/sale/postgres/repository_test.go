package postgres

import (
	"testing"

	"facturacl/ms_facturacion_marketplace/internal/core/sale"
)

// The ledger needs a live PostgreSQL pool; the reconciliation engine is
// tested against the in-memory testutil ledger instead. These tests cover
// the pieces that do not touch the database.

func TestLedgerImplementsInterface(t *testing.T) {
	var _ sale.Ledger = (*Ledger)(nil)
	var _ sale.BatchTx = (*batchTx)(nil)
}

func TestSortColumnAllowlist(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"created_at", "created_at", true},
		{"amount", "amount", true},
		{"document_date", "document_date", true},
		{"external_id; DROP TABLE sales", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := sortColumns[tt.in]
		if ok != tt.ok {
			t.Errorf("sortColumns[%q] ok = %v, want %v", tt.in, ok, tt.ok)
		}
		if ok && got != tt.want {
			t.Errorf("sortColumns[%q] = %q, want %q", tt.in, got, tt.want)
		}
	}
}
