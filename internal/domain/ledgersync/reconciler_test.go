package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/domain/transaction"
	"ledgerlink/internal/infrastructure/ledger"
)

// Mocks for the transaction storage collaborator

type MockTransactionRepo struct {
	UpsertFunc             func(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error)
	DeleteByExternalIDFunc func(ctx context.Context, userID int64, externalID string) (bool, error)
	ListByUserIDFunc       func(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error)
}

func (m *MockTransactionRepo) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return &transaction.Transaction{}, nil
}

func (m *MockTransactionRepo) DeleteByExternalID(ctx context.Context, userID int64, externalID string) (bool, error) {
	if m.DeleteByExternalIDFunc != nil {
		return m.DeleteByExternalIDFunc(ctx, userID, externalID)
	}
	return false, nil
}

func (m *MockTransactionRepo) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

// newStoreBackedRepo returns a repo whose upserts and deletes operate on an
// in-memory map keyed the same way as the database unique constraint, so
// idempotency and dedup behavior can be asserted on the final contents.
func newStoreBackedRepo() (*MockTransactionRepo, map[string]*transaction.Transaction) {
	store := make(map[string]*transaction.Transaction)
	key := func(userID int64, externalID string) string {
		return fmt.Sprintf("%d|%s", userID, externalID)
	}

	repo := &MockTransactionRepo{
		UpsertFunc: func(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
			k := key(params.UserID, params.ExternalID)
			tx, ok := store[k]
			if !ok {
				tx = &transaction.Transaction{ID: params.ID}
				store[k] = tx
			}
			tx.UserID = params.UserID
			tx.ConnectionID = params.ConnectionID
			tx.ExternalID = params.ExternalID
			tx.Amount = params.Amount
			tx.Description = params.Description
			tx.MerchantName = params.MerchantName
			tx.Date = params.Date
			tx.Category = params.Category
			tx.Recurring = params.Recurring
			tx.Source = transaction.SourceSync
			return tx, nil
		},
		DeleteByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (bool, error) {
			k := key(userID, externalID)
			if _, ok := store[k]; !ok {
				return false, nil
			}
			delete(store, k)
			return true, nil
		},
	}
	return repo, store
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConnection() *connection.Connection {
	return &connection.Connection{
		ID:     "conn-1",
		UserID: 42,
		Active: true,
		Status: connection.StatusPending,
	}
}

func TestApplyPage_PendingSkipped(t *testing.T) {
	ctx := context.Background()
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Added: []ledger.Record{
			{ID: "t1", AmountString: "10.00", DateString: "2025-08-01", Pending: true},
			{ID: "t2", AmountString: "20.00", DateString: "2025-08-01", Pending: false},
		},
	}

	result, err := r.ApplyPage(ctx, testConnection(), page)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Added != 1 || result.Skipped != 1 {
		t.Errorf("expected 1 added and 1 skipped, got added=%d skipped=%d", result.Added, result.Skipped)
	}
	if len(store) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(store))
	}
	if _, ok := store["42|t1"]; ok {
		t.Error("pending record t1 must not be materialized")
	}
}

func TestApplyPage_PendingThenSettledSameID(t *testing.T) {
	ctx := context.Background()
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())
	conn := testConnection()

	pending := &ledger.SyncResponse{
		Added: []ledger.Record{{ID: "t1", AmountString: "10.00", DateString: "2025-08-01", Pending: true}},
	}
	if _, err := r.ApplyPage(ctx, conn, pending); err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if len(store) != 0 {
		t.Fatalf("pending record produced a row")
	}

	settled := &ledger.SyncResponse{
		Modified: []ledger.Record{{ID: "t1", AmountString: "10.00", DateString: "2025-08-02", Pending: false}},
	}
	result, err := r.ApplyPage(ctx, conn, settled)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Modified != 1 {
		t.Errorf("expected 1 modified, got %d", result.Modified)
	}
	if len(store) != 1 {
		t.Fatalf("expected 1 stored row after settlement, got %d", len(store))
	}
}

func TestApplyPage_AmountNormalized(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"negative debit", "-42.50", "42.50"},
		{"positive", "42.50", "42.50"},
		{"negative integer", "-7", "7"},
		{"zero", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, store := newStoreBackedRepo()
			r := NewReconciler(repo, testLogger())

			page := &ledger.SyncResponse{
				Added: []ledger.Record{{ID: "t1", AmountString: tt.amount, DateString: "2025-08-01"}},
			}
			if _, err := r.ApplyPage(context.Background(), testConnection(), page); err != nil {
				t.Fatalf("ApplyPage returned error: %v", err)
			}

			tx := store["42|t1"]
			if tx == nil {
				t.Fatal("expected row for t1")
			}
			want := decimal.RequireFromString(tt.want)
			if !tx.Amount.Equal(want) {
				t.Errorf("expected amount %s, got %s", want, tx.Amount)
			}
			if tx.Amount.IsNegative() {
				t.Errorf("stored amount must never be negative, got %s", tx.Amount)
			}
		})
	}
}

func TestApplyPage_CategoryFallback(t *testing.T) {
	legacy := "Food"
	tests := []struct {
		name   string
		record ledger.Record
		want   *string
	}{
		{
			name: "provider classification wins",
			record: ledger.Record{
				ID: "t1", AmountString: "5", DateString: "2025-08-01",
				Category:                &legacy,
				PersonalFinanceCategory: &ledger.PersonalFinanceCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_COFFEE"},
			},
			want: strPtr("FOOD_AND_DRINK"),
		},
		{
			name: "legacy category fallback",
			record: ledger.Record{
				ID: "t1", AmountString: "5", DateString: "2025-08-01",
				Category: &legacy,
			},
			want: &legacy,
		},
		{
			name:   "absent",
			record: ledger.Record{ID: "t1", AmountString: "5", DateString: "2025-08-01"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, store := newStoreBackedRepo()
			r := NewReconciler(repo, testLogger())

			page := &ledger.SyncResponse{Added: []ledger.Record{tt.record}}
			if _, err := r.ApplyPage(context.Background(), testConnection(), page); err != nil {
				t.Fatalf("ApplyPage returned error: %v", err)
			}

			got := store["42|t1"].Category
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected no category, got %q", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("expected category %q, got %v", *tt.want, got)
			}
		})
	}
}

func TestApplyPage_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())
	conn := testConnection()

	page := &ledger.SyncResponse{
		Added: []ledger.Record{
			{ID: "t1", AmountString: "-42.50", DateString: "2025-08-01", Description: "Coffee"},
			{ID: "t2", AmountString: "100.00", DateString: "2025-08-02", Description: "Groceries"},
		},
	}

	if _, err := r.ApplyPage(ctx, conn, page); err != nil {
		t.Fatalf("first apply returned error: %v", err)
	}
	firstAmount := store["42|t1"].Amount

	// Replaying the identical page (cursor replay / at-least-once delivery)
	// must leave storage in the same final state.
	result, err := r.ApplyPage(ctx, conn, page)
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if result.Added != 2 {
		t.Errorf("expected 2 applied on replay, got %d", result.Added)
	}
	if len(store) != 2 {
		t.Fatalf("replay changed row count: got %d, want 2", len(store))
	}
	if !store["42|t1"].Amount.Equal(firstAmount) {
		t.Errorf("replay changed amount: got %s, want %s", store["42|t1"].Amount, firstAmount)
	}
}

func TestApplyPage_ModifyUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())
	conn := testConnection()

	add := &ledger.SyncResponse{
		Added: []ledger.Record{{ID: "t1", AmountString: "-42.50", DateString: "2025-08-01"}},
	}
	if _, err := r.ApplyPage(ctx, conn, add); err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}

	modify := &ledger.SyncResponse{
		Modified: []ledger.Record{{ID: "t1", AmountString: "-50.00", DateString: "2025-08-01"}},
	}
	result, err := r.ApplyPage(ctx, conn, modify)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Modified != 1 {
		t.Errorf("expected 1 modified, got %d", result.Modified)
	}
	if len(store) != 1 {
		t.Fatalf("modify must not create a second row, got %d rows", len(store))
	}
	if want := decimal.RequireFromString("50.00"); !store["42|t1"].Amount.Equal(want) {
		t.Errorf("expected amount 50.00, got %s", store["42|t1"].Amount)
	}
}

func TestApplyPage_ModifyForMissingRecordCreates(t *testing.T) {
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Modified: []ledger.Record{{ID: "t9", AmountString: "12.00", DateString: "2025-08-01"}},
	}
	if _, err := r.ApplyPage(context.Background(), testConnection(), page); err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if _, ok := store["42|t9"]; !ok {
		t.Error("modify for an unknown record must create it")
	}
}

func TestApplyPage_RemovalAndReplayNoop(t *testing.T) {
	ctx := context.Background()
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())
	conn := testConnection()

	add := &ledger.SyncResponse{
		Added: []ledger.Record{{ID: "t1", AmountString: "42.50", DateString: "2025-08-01"}},
	}
	if _, err := r.ApplyPage(ctx, conn, add); err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}

	remove := &ledger.SyncResponse{Removed: []ledger.RemovedRecord{{ID: "t1"}}}
	result, err := r.ApplyPage(ctx, conn, remove)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Removed != 1 {
		t.Errorf("expected 1 removed, got %d", result.Removed)
	}
	if len(store) != 0 {
		t.Fatalf("expected 0 rows after removal, got %d", len(store))
	}

	// Repeating the same removal is a no-op, not an error.
	result, err = r.ApplyPage(ctx, conn, remove)
	if err != nil {
		t.Fatalf("repeated removal returned error: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("repeated removal should count 0, got %d", result.Removed)
	}
}

func TestApplyPage_RemoveAppliedAfterAddInSamePage(t *testing.T) {
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Added:   []ledger.Record{{ID: "t1", AmountString: "5.00", DateString: "2025-08-01"}},
		Removed: []ledger.RemovedRecord{{ID: "t1"}},
	}
	result, err := r.ApplyPage(context.Background(), testConnection(), page)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Added != 1 || result.Removed != 1 {
		t.Errorf("expected added=1 removed=1, got added=%d removed=%d", result.Added, result.Removed)
	}
	if len(store) != 0 {
		t.Fatalf("remove after add in the same page must win, got %d rows", len(store))
	}
}

func TestApplyPage_ConstraintFailureSkipsRecordOnly(t *testing.T) {
	upserts := 0
	repo := &MockTransactionRepo{
		UpsertFunc: func(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
			upserts++
			if params.ExternalID == "bad" {
				return nil, fmt.Errorf("upsert: %w", transaction.ErrConstraint)
			}
			return &transaction.Transaction{}, nil
		},
	}
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Added: []ledger.Record{
			{ID: "good-1", AmountString: "1", DateString: "2025-08-01"},
			{ID: "bad", AmountString: "2", DateString: "2025-08-01"},
			{ID: "good-2", AmountString: "3", DateString: "2025-08-01"},
		},
	}
	result, err := r.ApplyPage(context.Background(), testConnection(), page)
	if err != nil {
		t.Fatalf("a record-level failure must not abort the page: %v", err)
	}
	if upserts != 3 {
		t.Errorf("all records must be attempted, got %d upserts", upserts)
	}
	if result.Added != 2 || result.Skipped != 1 {
		t.Errorf("expected added=2 skipped=1, got added=%d skipped=%d", result.Added, result.Skipped)
	}
}

func TestApplyPage_UnparsableRecordSkipped(t *testing.T) {
	repo, store := newStoreBackedRepo()
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Added: []ledger.Record{
			{ID: "t1", AmountString: "not-a-number", DateString: "2025-08-01"},
			{ID: "t2", AmountString: "1.00", DateString: "bogus"},
			{ID: "t3", AmountString: "1.00", DateString: "2025-08-01"},
		},
	}
	result, err := r.ApplyPage(context.Background(), testConnection(), page)
	if err != nil {
		t.Fatalf("ApplyPage returned error: %v", err)
	}
	if result.Added != 1 || result.Skipped != 2 {
		t.Errorf("expected added=1 skipped=2, got added=%d skipped=%d", result.Added, result.Skipped)
	}
	if len(store) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store))
	}
}

func TestApplyPage_StorageFailureAbortsPage(t *testing.T) {
	storageDown := errors.New("connection refused")
	upserts := 0
	repo := &MockTransactionRepo{
		UpsertFunc: func(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
			upserts++
			if upserts == 2 {
				return nil, storageDown
			}
			return &transaction.Transaction{}, nil
		},
	}
	r := NewReconciler(repo, testLogger())

	page := &ledger.SyncResponse{
		Added: []ledger.Record{
			{ID: "t1", AmountString: "1", DateString: "2025-08-01"},
			{ID: "t2", AmountString: "2", DateString: "2025-08-01"},
			{ID: "t3", AmountString: "3", DateString: "2025-08-01"},
		},
	}
	result, err := r.ApplyPage(context.Background(), testConnection(), page)
	if !errors.Is(err, storageDown) {
		t.Fatalf("expected storage error to surface, got %v", err)
	}
	if upserts != 2 {
		t.Errorf("page must abort at the storage failure, got %d upserts", upserts)
	}
	if result.Added != 1 {
		t.Errorf("counts must reflect work done before the abort, got added=%d", result.Added)
	}
}

func strPtr(s string) *string { return &s }
