package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"facturacl/ms_facturacion_marketplace/internal/core/sale"
)

// MemLedger is an in-memory sale.Ledger with transactional semantics close
// enough for engine tests: batch mutations stage inside the tx and become
// visible only on Commit.
type MemLedger struct {
	mu     sync.Mutex
	nextID int64

	Sales     map[string]*sale.Sale
	Documents []sale.Document

	// Commits and Rollbacks count completed transactions.
	Commits   int
	Rollbacks int

	// BeginErr, when set, makes Begin fail.
	BeginErr error
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		Sales:  make(map[string]*sale.Sale),
		nextID: 1,
	}
}

func saleKey(accountID int64, externalID string) string {
	return fmt.Sprintf("%d|%s", accountID, externalID)
}

// Seed places a sale directly into the ledger, outside any transaction.
func (l *MemLedger) Seed(s sale.Sale) *sale.Sale {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.ID == 0 {
		s.ID = l.nextID
		l.nextID++
	} else if s.ID >= l.nextID {
		l.nextID = s.ID + 1
	}
	copied := s
	l.Sales[saleKey(s.AccountID, s.ExternalID)] = &copied
	return &copied
}

// Get returns the committed sale, or nil.
func (l *MemLedger) Get(accountID int64, externalID string) *sale.Sale {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.Sales[saleKey(accountID, externalID)]; ok {
		copied := *s
		return &copied
	}
	return nil
}

func (l *MemLedger) Begin(ctx context.Context) (sale.BatchTx, error) {
	if l.BeginErr != nil {
		return nil, l.BeginErr
	}
	return &memTx{
		ledger:  l,
		staged:  make(map[string]*sale.Sale),
		updated: make(map[int64]*sale.Sale),
	}, nil
}

// List returns committed sales for the account. Filtering mirrors the SQL
// implementation only as far as the tests need: platform and pagination.
func (l *MemLedger) List(ctx context.Context, accountID int64, f sale.ListFilter) ([]sale.Sale, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sales []sale.Sale
	for _, s := range l.Sales {
		if s.AccountID != accountID {
			continue
		}
		if f.Platform != "" && string(s.Platform) != f.Platform {
			continue
		}
		sales = append(sales, *s)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })

	total := len(sales)
	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start > len(sales) {
		start = len(sales)
	}
	end := start + perPage
	if end > len(sales) {
		end = len(sales)
	}
	return sales[start:end], total, nil
}

type memTx struct {
	ledger *MemLedger
	// staged holds inserts keyed like the ledger; updated holds updates by
	// sale id.
	staged    map[string]*sale.Sale
	updated   map[int64]*sale.Sale
	documents []sale.Document
	done      bool
}

func (t *memTx) Find(ctx context.Context, accountID int64, externalID string) (*sale.Sale, error) {
	key := saleKey(accountID, externalID)
	if s, ok := t.staged[key]; ok {
		copied := *s
		return &copied, nil
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	if s, ok := t.ledger.Sales[key]; ok {
		if u, ok := t.updated[s.ID]; ok {
			copied := *u
			return &copied, nil
		}
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (t *memTx) Insert(ctx context.Context, s *sale.Sale) error {
	key := saleKey(s.AccountID, s.ExternalID)
	if _, ok := t.staged[key]; ok {
		return sale.ErrDuplicate
	}
	t.ledger.mu.Lock()
	_, exists := t.ledger.Sales[key]
	if !exists {
		s.ID = t.ledger.nextID
		t.ledger.nextID++
	}
	t.ledger.mu.Unlock()
	if exists {
		return sale.ErrDuplicate
	}
	copied := *s
	t.staged[key] = &copied
	return nil
}

func (t *memTx) Update(ctx context.Context, s *sale.Sale) error {
	key := saleKey(s.AccountID, s.ExternalID)
	copied := *s
	if _, ok := t.staged[key]; ok {
		t.staged[key] = &copied
		return nil
	}
	t.updated[s.ID] = &copied
	return nil
}

func (t *memTx) AppendDocument(ctx context.Context, d *sale.Document) error {
	t.ledger.mu.Lock()
	d.ID = t.ledger.nextID
	t.ledger.nextID++
	t.ledger.mu.Unlock()
	t.documents = append(t.documents, *d)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true

	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()

	for key, s := range t.staged {
		copied := *s
		t.ledger.Sales[key] = &copied
	}
	for id, u := range t.updated {
		for key, s := range t.ledger.Sales {
			if s.ID == id {
				copied := *u
				t.ledger.Sales[key] = &copied
				break
			}
		}
	}
	t.ledger.Documents = append(t.ledger.Documents, t.documents...)
	t.ledger.Commits++
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ledger.mu.Lock()
	t.ledger.Rollbacks++
	t.ledger.mu.Unlock()
	return nil
}
