package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ledgerlink/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

// Ensure TransactionRepository implements the domain interface
var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, connection_id, external_id, amount, description, merchant_name, date, pending, source, category, recurring, created_at, updated_at`

// Upsert inserts or overwrites a transaction keyed on (user_id, external_id).
// An existing row keeps its id; everything else is replaced by the incoming
// record, which makes replaying a sync page a no-op.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transactions (id, user_id, connection_id, external_id, amount, description,
		                          merchant_name, date, pending, source, category, recurring)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
		    connection_id = EXCLUDED.connection_id,
		    amount = EXCLUDED.amount,
		    description = EXCLUDED.description,
		    merchant_name = EXCLUDED.merchant_name,
		    date = EXCLUDED.date,
		    category = EXCLUDED.category,
		    recurring = EXCLUDED.recurring,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		params.ID, params.UserID, params.ConnectionID, params.ExternalID, params.Amount,
		params.Description, params.MerchantName, params.Date, transaction.SourceSync,
		params.Category, params.Recurring,
	))
	if err != nil {
		return nil, classifyError("failed to upsert transaction", err)
	}
	return tx, nil
}

// DeleteByExternalID hard-deletes a synced transaction scoped to its owner.
// A missing row reports false with no error.
func (r *TransactionRepository) DeleteByExternalID(ctx context.Context, userID int64, externalID string) (bool, error) {
	query := `DELETE FROM transactions WHERE user_id = $1 AND external_id = $2`

	result, err := r.db.ExecContext(ctx, query, userID, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// classifyError maps integrity-constraint violations (class 23) to
// transaction.ErrConstraint so the reconciler can skip the record instead of
// abandoning the page.
func classifyError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%s: %w: %v", msg, transaction.ErrConstraint, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.ConnectionID, &tx.ExternalID, &tx.Amount,
		&tx.Description, &tx.MerchantName, &tx.Date, &tx.Pending, &tx.Source,
		&tx.Category, &tx.Recurring, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
